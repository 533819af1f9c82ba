package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.commitHash=... -X main.buildTime=...".
var (
	commitHash string
	buildTime  string
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "stylist",
	Short: "AI virtual try-on from the command line",
	Long: `Stylist dresses a person in a garment using the Gemini image model,
then restyles the result with a chosen model persona.

Examples:
  stylist tryon --person me.png --garment jacket.jpg
  stylist tryon -p me.png -g jacket.jpg --persona Korean --out ./looks
  stylist personas`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "stylist.yaml", "Optional YAML configuration file")
	rootCmd.AddCommand(tryonCmd, personasCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
