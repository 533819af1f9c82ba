package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/ai-virtual-stylist/internal/awsboot"
	"github.com/fpang/ai-virtual-stylist/internal/chat"
	"github.com/fpang/ai-virtual-stylist/internal/cli"
	"github.com/fpang/ai-virtual-stylist/internal/config"
	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
	"github.com/fpang/ai-virtual-stylist/internal/logging"
	"github.com/fpang/ai-virtual-stylist/internal/metrics"
	"github.com/fpang/ai-virtual-stylist/internal/persona"
	"github.com/fpang/ai-virtual-stylist/internal/recorder"
	"github.com/fpang/ai-virtual-stylist/internal/workflow"
)

// tryon flags
var (
	personFlag       string
	garmentFlag      string
	personaFlag      string
	outFlag          string
	modelFlag        string
	skipFinalFlag    bool
	skipValidateFlag bool
)

var tryonCmd = &cobra.Command{
	Use:   "tryon",
	Short: "Generate a try-on image and restyle it with a persona",
	Long: `Tryon composites the person from --person with the clothing from
--garment, saves the result as tryon.<ext>, then restyles it with the chosen
persona and saves final.<ext>. Without --persona the persona is asked for
interactively.`,
	Run: runTryon,
}

func init() {
	f := tryonCmd.Flags()
	f.StringVarP(&personFlag, "person", "p", "", "Image of the person (png, jpeg, webp)")
	f.StringVarP(&garmentFlag, "garment", "g", "", "Image of the garment (png, jpeg, webp)")
	f.StringVar(&personaFlag, "persona", "", "Model persona for the final image (Korean, Chinese, European/American)")
	f.StringVarP(&outFlag, "out", "o", "", "Directory for generated images (default from config, else current directory)")
	f.StringVarP(&modelFlag, "model", "m", "", "Gemini image model (default "+chat.DefaultModelName+")")
	f.BoolVar(&skipFinalFlag, "skip-final", false, "Stop after the try-on image")
	f.BoolVar(&skipValidateFlag, "skip-validate", false, "Skip the API key check at startup")
	_ = tryonCmd.MarkFlagRequired("person")
	_ = tryonCmd.MarkFlagRequired("garment")
}

func runTryon(cmd *cobra.Command, args []string) {
	logging.Init()
	initStart := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	// Resolve the persona up front so a typo fails before any generation.
	var chosen persona.Persona
	if personaFlag != "" && !skipFinalFlag {
		if chosen, err = persona.Parse(personaFlag); err != nil {
			log.Fatal().Err(err).Msg("Invalid --persona")
		}
	}

	outDir, err := cli.ResolveOutputDir(cfg.OutputDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid output directory")
	}

	res, err := awsboot.Init(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize AWS resources")
	}

	var sink *metrics.Sink
	if cfg.EmitMetrics {
		sink = metrics.NewSink(os.Stderr, metrics.Namespace, "stylist")
	}

	client := cli.InitGeminiClient(ctx, cfg.ValidationModel, skipValidateFlag, sink)
	stylist := chat.NewStylistClient(client, chat.Options{
		Model:             cfg.Model,
		MaxInputDimension: cfg.MaxInputDimension,
		Metrics:           sink,
	})

	machine := workflow.New(stylist)
	sessionID := uuid.NewString()
	if res.Enabled {
		rec := recorder.Options{Bucket: cfg.S3Bucket}
		if res.S3 != nil {
			rec.S3 = res.S3.Client
		}
		if res.Dynamo != nil {
			rec.Store = res.Dynamo
		}
		if res.Events != nil {
			rec.Events = res.Events
		}
		recorder.New(rec).Attach(sessionID, machine, time.Now())
	}

	res.Describe(awsboot.StartupLog("stylist", initStart), cfg).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("model", stylist.Model()).
		Config("outputDir", outDir).
		Config("sessionId", sessionID).
		Feature("metrics", sink != nil).
		Log()

	person, garment, err := loadInputs(personFlag, garmentFlag, cfg.MaxUploadBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load input images")
	}
	machine.SetCharacter(person)
	machine.SetGarment(garment)

	var results []cli.StageResult
	out := cmd.OutOrStdout()

	tryon := runStage(ctx, machine, machine.StartComposite, "Try-on", outDir, "tryon")
	results = append(results, tryon)
	if tryon.Err != nil || skipFinalFlag {
		if skipFinalFlag {
			results = append(results, cli.StageResult{Label: "Final", Skipped: true})
		}
		cli.RenderSummary(out, machine.Snapshot(), results)
		if tryon.Err != nil {
			os.Exit(1)
		}
		return
	}

	if chosen == "" {
		chosen, err = cli.PromptForPersona(os.Stdin, out)
		if err != nil {
			log.Fatal().Err(err).Msg("No persona selected")
		}
	}
	machine.SelectPersona(chosen)

	final := runStage(ctx, machine, machine.StartRestyle, "Final", outDir, "final")
	results = append(results, final)
	cli.RenderSummary(out, machine.Snapshot(), results)
	if final.Err != nil {
		os.Exit(1)
	}
}

// loadInputs reads both images concurrently.
func loadInputs(personPath, garmentPath string, limit int64) (imagefile.ImageRecord, imagefile.ImageRecord, error) {
	var person, garment imagefile.ImageRecord
	var g errgroup.Group
	g.Go(func() error {
		rec, err := imagefile.LoadLimit(personPath, limit)
		if err != nil {
			return fmt.Errorf("person image %s: %w", personPath, err)
		}
		person = rec
		return nil
	})
	g.Go(func() error {
		rec, err := imagefile.LoadLimit(garmentPath, limit)
		if err != nil {
			return fmt.Errorf("garment image %s: %w", garmentPath, err)
		}
		garment = rec
		return nil
	})
	if err := g.Wait(); err != nil {
		return imagefile.ImageRecord{}, imagefile.ImageRecord{}, err
	}
	return person, garment, nil
}

// runStage starts a stage, waits for it, and saves its artifact as
// baseName in outDir.
func runStage(ctx context.Context, m *workflow.Machine, start func(context.Context) (*workflow.Run, bool), label, outDir, baseName string) cli.StageResult {
	result := cli.StageResult{Label: label}
	begin := time.Now()

	run, ok := start(ctx)
	if !ok {
		result.Err = errors.New("stage could not be started")
		return result
	}
	log.Info().Str("stage", string(run.Stage())).Msg(m.Snapshot().ActiveStage)

	if err := run.Wait(ctx); err != nil {
		result.Err = err
		return result
	}
	result.Duration = time.Since(begin)

	rec, err := imagefile.ParseDataURL(run.Result())
	if err != nil {
		result.Err = fmt.Errorf("decode %s image: %w", baseName, err)
		return result
	}
	path, err := imagefile.Save(rec, outDir, baseName)
	if err != nil {
		result.Err = err
		return result
	}
	result.Path = path
	return result
}
