// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"dotctl/internal/condition"
	"dotctl/internal/config"
	"dotctl/internal/discovery"
	"dotctl/internal/issue"
)

// workspace bundles everything a command needs to operate on packages: the
// resolved configuration, the assembled source roots, and the discovery
// catalog built from them.
type workspace struct {
	cfg     *config.Config
	sources *config.SourceList
	dataDir string
	roots   []config.Root
	checker *condition.Checker
	catalog *discovery.Catalog
}

// openWorkspace loads the configuration, assembles the source roots (cloning
// git sources on first use), and scans them into a catalog. An empty filter
// keeps every configured source.
func openWorkspace(filter string) (*workspace, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}

	roots := sources.Assemble(dataDir)
	if filter != "" {
		kept := roots[:0]
		for _, root := range roots {
			if root.Name == filter {
				kept = append(kept, root)
			}
		}
		if len(kept) == 0 {
			return nil, fmt.Errorf("source %q is not configured or could not be assembled", filter)
		}
		roots = kept
	}
	if len(roots) == 0 {
		reportIssue(issue.NoSourcesId)
		return nil, fmt.Errorf("no usable package source is configured")
	}

	checker := condition.New()
	catalog := discovery.Discover(roots, checker)
	return &workspace{
		cfg:     cfg,
		sources: sources,
		dataDir: dataDir,
		roots:   roots,
		checker: checker,
		catalog: catalog,
	}, nil
}
