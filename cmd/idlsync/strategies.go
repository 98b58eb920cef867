// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/idlsync/idlsync/internal/extract"
)

// newStrategiesCommand creates the `idlsync strategies` command.
func newStrategiesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the file naming strategies",
		Long: `List the file naming strategies accepted by fileNameStrategy.

A strategy maps a source and the path of one of its IDL files to the
public file name used in the published tree.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			width := 0
			for _, s := range extract.Strategies() {
				width = max(width, len(s.String()))
			}
			for _, s := range extract.Strategies() {
				fmt.Fprintf(app.stdout, "%s  %s\n", CmdStyle.Render(fmt.Sprintf("%-*s", width, s)), s.Describe())
			}
			return nil
		},
	}
}
