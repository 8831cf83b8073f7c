// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"

	"dotctl/internal/discovery"
	"dotctl/internal/resolve"
	"dotctl/internal/state"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [package...]",
	Short: "List discoverable packages and their install status",
	Long: `List the packages discoverable under the configured sources.

Without arguments every visible package is listed except support
packages, which only exist to serve other packages. Arguments narrow
the listing and accept group globs ('shells.*').`,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(sourceFilter)
	if err != nil {
		return fail(err)
	}

	names := ws.catalog.Names()
	explicit := len(args) > 0
	if explicit {
		names, err = resolve.Expand(ws.catalog, args)
		if err != nil {
			return fail(err)
		}
	}

	// Install status comes from the state store; a locked store degrades the
	// listing instead of failing it.
	installed := func(string) bool { return false }
	store, err := state.Open(ws.dataDir)
	switch {
	case err == nil:
		defer store.Close()
		installed = store.IsInstalled
	default:
		var locked *state.LockedError
		if !errors.As(err, &locked) {
			return fail(err)
		}
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+err.Error()+"; install status unavailable")
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SubtitleStyle).
		Headers("PACKAGE", "SOURCE", "DESCRIPTION", "STATUS").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TitleStyle.Padding(0, 1)
			}
			if col == 0 {
				return PkgStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	shown := 0
	for _, name := range names {
		desc, err := ws.catalog.Resolve(name)
		if err != nil {
			var nf *discovery.NotFoundError
			if errors.As(err, &nf) {
				return fail(&resolve.UnknownPackageError{Name: name, Hidden: nf.Hidden})
			}
			return fail(err)
		}
		// Support packages only show up when named explicitly.
		if desc.IsSupport() && !explicit {
			continue
		}
		status := ""
		if installed(name) {
			status = SuccessStyle.Render("installed")
		}
		t.Row(name, desc.Root, desc.Description, status)
		shown++
	}

	out := cmd.OutOrStdout()
	if shown == 0 {
		fmt.Fprintln(out, SubtitleStyle.Render("no packages found"))
		return nil
	}
	fmt.Fprintln(out, t.Render())
	return nil
}
