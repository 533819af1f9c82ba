// Command stylist-mcp exposes the try-on workflow as MCP tools over stdio.
// Stdout carries the protocol, so logs and metrics go to stderr.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/ai-virtual-stylist/internal/awsboot"
	"github.com/fpang/ai-virtual-stylist/internal/chat"
	"github.com/fpang/ai-virtual-stylist/internal/cli"
	"github.com/fpang/ai-virtual-stylist/internal/config"
	"github.com/fpang/ai-virtual-stylist/internal/logging"
	"github.com/fpang/ai-virtual-stylist/internal/metrics"
	"github.com/fpang/ai-virtual-stylist/internal/workflow"
)

// Set at build time with -ldflags.
var (
	commitHash string
	buildTime  string
)

// CLI flags
var (
	configFlag       string
	modelFlag        string
	outFlag          string
	skipValidateFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "stylist-mcp",
	Short: "MCP stdio server for the AI virtual stylist",
	Long: `Stylist MCP serves the two-stage try-on workflow to MCP clients over
stdin/stdout. One server process holds one workflow.

Example client configuration:
  {"command": "stylist-mcp", "args": ["--out", "~/stylist"]}`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&configFlag, "config", "stylist.yaml", "Optional YAML configuration file")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini image model (default "+chat.DefaultModelName+")")
	rootCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Directory the save_images tool writes to (default from config)")
	rootCmd.Flags().BoolVar(&skipValidateFlag, "skip-validate", false, "Skip the API key check at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.InitTo(os.Stderr)
	initStart := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if outFlag != "" {
		cfg.OutputDir = outFlag
	}
	outDir, err := cli.ResolveOutputDir(cfg.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.OutputDir).Msg("Invalid output directory")
	}

	// Only the SSM key lookup applies here; there is no session history.
	res, err := awsboot.Init(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize AWS resources")
	}

	var sink *metrics.Sink
	if cfg.EmitMetrics {
		sink = metrics.NewSink(os.Stderr, metrics.Namespace, "stylist-mcp")
	}

	client := cli.InitGeminiClient(ctx, cfg.ValidationModel, skipValidateFlag, sink)
	stylist := chat.NewStylistClient(client, chat.Options{
		Model:             cfg.Model,
		MaxInputDimension: cfg.MaxInputDimension,
		Metrics:           sink,
	})

	server := newServer(workflow.New(stylist), outDir, cfg.MaxUploadBytes)

	res.Describe(awsboot.StartupLog("stylist-mcp", initStart), cfg).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("model", stylist.Model()).
		Config("outputDir", outDir).
		Feature("metrics", sink != nil).
		Log()

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("MCP server failed")
	}
	log.Info().Msg("MCP server stopped")
}
