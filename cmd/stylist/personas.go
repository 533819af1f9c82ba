package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/ai-virtual-stylist/internal/cli"
	"github.com/fpang/ai-virtual-stylist/internal/persona"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the model personas available for restyling",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, cli.StyleHeader.Render("Personas"))
		for _, p := range persona.All() {
			fmt.Fprintf(out, "  %-20s %s\n", p.DisplayName(), cli.StyleMuted.Render("--persona "+fmt.Sprintf("%q", string(p))))
		}
	},
}
