package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/ai-virtual-stylist/internal/awsboot"
	"github.com/fpang/ai-virtual-stylist/internal/chat"
	"github.com/fpang/ai-virtual-stylist/internal/cli"
	"github.com/fpang/ai-virtual-stylist/internal/config"
	"github.com/fpang/ai-virtual-stylist/internal/logging"
	"github.com/fpang/ai-virtual-stylist/internal/metrics"
	"github.com/fpang/ai-virtual-stylist/internal/recorder"
	"github.com/fpang/ai-virtual-stylist/internal/session"
	"github.com/fpang/ai-virtual-stylist/internal/store"
)

// Set at build time with -ldflags.
var (
	commitHash string
	buildTime  string
)

// CLI flags
var (
	configFlag       string
	portFlag         int
	modelFlag        string
	skipValidateFlag bool
)

// sweepInterval is how often expired sessions are dropped.
const sweepInterval = 10 * time.Minute

var rootCmd = &cobra.Command{
	Use:   "stylist-web",
	Short: "HTTP API for the AI virtual stylist",
	Long: `Stylist Web serves a JSON API for the two-stage try-on workflow.
Each session holds a person image, a garment image, the generated try-on
image and the persona-restyled final image.

Examples:
  stylist-web
  stylist-web --port 9090
  stylist-web --model gemini-3-pro-image-preview`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&configFlag, "config", "stylist.yaml", "Optional YAML configuration file")
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (default from config, 8080)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini image model (default "+chat.DefaultModelName+")")
	rootCmd.Flags().BoolVar(&skipValidateFlag, "skip-validate", false, "Skip the API key check at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()
	initStart := time.Now()
	ctx := context.Background()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}

	res, err := awsboot.Init(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize AWS resources")
	}

	var sink *metrics.Sink
	if cfg.EmitMetrics {
		sink = metrics.Stdout("stylist-web")
	}

	client := cli.InitGeminiClient(ctx, cfg.ValidationModel, skipValidateFlag, sink)
	stylist := chat.NewStylistClient(client, chat.Options{
		Model:             cfg.Model,
		MaxInputDimension: cfg.MaxInputDimension,
		Metrics:           sink,
	})

	// Session history goes to DynamoDB when configured, otherwise memory.
	var (
		history store.HistoryStore
		memory  *store.MemoryStore
	)
	if res.Dynamo != nil {
		history = res.Dynamo
	} else {
		memory = store.NewMemoryStore()
		history = memory
	}

	recOpts := recorder.Options{Store: history, Bucket: cfg.S3Bucket}
	srv := &server{history: history, maxUpload: cfg.MaxUploadBytes}
	if res.S3 != nil {
		recOpts.S3 = res.S3.Client
		srv.presigner = res.S3.Presigner
		srv.bucket = res.S3.Bucket
	}
	if res.Events != nil {
		recOpts.Events = res.Events
	}
	srv.registry = session.NewRegistry(stylist, cfg.SessionTTL, recorder.New(recOpts).Hook())

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go srv.registry.RunSweeper(sweepCtx, sweepInterval, func(id string) {
		if memory != nil {
			memory.Delete(id)
		}
	})

	res.Describe(awsboot.StartupLog("stylist-web", initStart), cfg).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("model", stylist.Model()).
		Config("port", fmt.Sprint(cfg.Port)).
		Config("sessionTTL", cfg.SessionTTL.String()).
		Feature("metrics", sink != nil).
		Log()

	httpSrv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      newRouter(srv),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		stopSweep()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown did not complete cleanly")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Starting web server")
	fmt.Printf("\n  Stylist API: http://localhost:%d/api\n\n", cfg.Port)

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
