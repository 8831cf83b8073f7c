// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"dotctl/internal/config"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	sourcesCmd = &cobra.Command{
		Use:   "sources",
		Short: "Manage the prioritized package sources",
		Long: `Manage the ordered list of package sources.

Sources are searched in list order during discovery: a package defined
under an earlier source shadows the same name under a later one. A
source is either a local directory or a git repository cloned under the
data directory on first use.`,
	}

	sourcesListCmd = &cobra.Command{
		Use:   "list",
		Short: "Show the configured sources in priority order",
		RunE:  runSourcesList,
	}

	sourceName      string
	sourceGit       bool
	sourceRefspec   string
	sourceDirectory string

	sourcesAddCmd = &cobra.Command{
		Use:   "add <directory|repository>",
		Short: "Append a source to the priority list",
		Long: `Append a source to the end of the priority list.

The argument is a local package directory, or with --git a repository
clone URL. The source name defaults to the directory (or repository)
base name; override it with --name.

Examples:
  dotctl sources add ~/.dotfiles
  dotctl sources add --git --name work git@example.com:team/dotfiles.git
  dotctl sources add --git --directory packages https://example.com/dotfiles.git`,
		Args: cobra.ExactArgs(1),
		RunE: runSourcesAdd,
	}

	sourcesRemoveCmd = &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a source from the list",
		Args:  cobra.ExactArgs(1),
		RunE:  runSourcesRemove,
	}
)

func init() {
	sourcesAddCmd.Flags().StringVar(&sourceName, "name", "", "logical name of the source (default: location base name)")
	sourcesAddCmd.Flags().BoolVar(&sourceGit, "git", false, "treat the argument as a git clone URL")
	sourcesAddCmd.Flags().StringVar(&sourceRefspec, "refspec", "", "branch or commit to check out (git sources)")
	sourcesAddCmd.Flags().StringVar(&sourceDirectory, "directory", "", "packages subdirectory inside the repository (git sources)")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesRemoveCmd)
}

func loadSourceList() (*config.SourceList, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return config.LoadSources(cfg.SourcesFile)
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	sl, err := loadSourceList()
	if err != nil {
		return fail(err)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SubtitleStyle).
		Headers("NAME", "TYPE", "LOCATION").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TitleStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, s := range sl.Sources {
		location := s.Directory
		if s.Type == config.SourceTypeGit {
			location = s.Repository
			if s.Directory != "" {
				location += " (" + s.Directory + ")"
			}
		}
		t.Row(s.Name, s.Type, location)
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func runSourcesAdd(cmd *cobra.Command, args []string) error {
	sl, err := loadSourceList()
	if err != nil {
		return fail(err)
	}

	location := args[0]
	source := config.Source{
		Name: sourceName,
		Type: config.SourceTypeLocal,
	}
	if sourceGit {
		source.Type = config.SourceTypeGit
		source.Repository = location
		source.Refspec = sourceRefspec
		source.Directory = sourceDirectory
		if source.Name == "" {
			source.Name = repositoryBaseName(location)
		}
	} else {
		abs, err := filepath.Abs(location)
		if err != nil {
			return fail(err)
		}
		source.Directory = abs
		if source.Name == "" {
			source.Name = filepath.Base(abs)
		}
	}

	if err := sl.Add(source); err != nil {
		return fail(err)
	}
	if err := sl.Save(); err != nil {
		return fail(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added source %s\n", PkgStyle.Render(source.Name))
	return nil
}

func runSourcesRemove(cmd *cobra.Command, args []string) error {
	sl, err := loadSourceList()
	if err != nil {
		return fail(err)
	}
	if err := sl.Remove(args[0]); err != nil {
		return fail(err)
	}
	if err := sl.Save(); err != nil {
		return fail(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed source %s\n", PkgStyle.Render(args[0]))
	return nil
}

// repositoryBaseName derives a source name from a clone URL.
func repositoryBaseName(url string) string {
	base := url
	if idx := strings.LastIndexAny(base, "/:"); idx >= 0 {
		base = base[idx+1:]
	}
	return strings.TrimSuffix(base, ".git")
}
