// Package awsboot wires the optional AWS resources of the stylist binaries:
// SSM for the API key, S3 for artifact export, DynamoDB for session history,
// and EventBridge for stage events.
//
// Each resource is enabled by a non-empty name in config.Config; when none
// is set, AWS configuration is never loaded.
package awsboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-virtual-stylist/internal/auth"
	"github.com/fpang/ai-virtual-stylist/internal/config"
	"github.com/fpang/ai-virtual-stylist/internal/events"
	"github.com/fpang/ai-virtual-stylist/internal/logging"
	"github.com/fpang/ai-virtual-stylist/internal/store"
)

// S3Clients holds S3 client, presigner, and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// Resources are the AWS-backed sinks selected by the configuration. Nil
// fields are disabled.
type Resources struct {
	S3      *S3Clients
	Dynamo  *store.DynamoStore
	Events  *events.Emitter
	Enabled bool
}

// Needed reports whether cfg asks for any AWS resource.
func Needed(cfg *config.Config) bool {
	return cfg.S3Bucket != "" || cfg.DynamoTable != "" || cfg.EventBus != "" || cfg.SSMAPIKeyParam != ""
}

// InitAWS loads the default AWS config.
func InitAWS(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg, nil
}

// InitS3 creates an S3 client and presigner for bucket.
func InitS3(cfg aws.Config, bucket string) *S3Clients {
	client := s3.NewFromConfig(cfg)
	return &S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}
}

// InitDynamo creates a DynamoDB history store for table.
func InitDynamo(cfg aws.Config, table string, ttl time.Duration) *store.DynamoStore {
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table, ttl)
}

// InitEvents creates an EventBridge emitter for bus.
func InitEvents(cfg aws.Config, bus string) *events.Emitter {
	return events.NewEmitter(eventbridge.NewFromConfig(cfg), bus)
}

// ParameterGetter is the part of *ssm.Client used by LoadGeminiKey.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store into
// GEMINI_API_KEY, unless that variable is already set.
func LoadGeminiKey(ctx context.Context, client ParameterGetter, param string) error {
	if os.Getenv(auth.EnvAPIKey) != "" || param == "" {
		return nil
	}
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to read API key from SSM %s: %w", param, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return fmt.Errorf("SSM parameter %s is empty", param)
	}
	if err := os.Setenv(auth.EnvAPIKey, aws.ToString(result.Parameter.Value)); err != nil {
		return fmt.Errorf("set %s: %w", auth.EnvAPIKey, err)
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return nil
}

// Init builds the resources cfg asks for. It must run before the Gemini
// client is created so an SSM-held key is visible to auth.GetAPIKey.
func Init(ctx context.Context, cfg *config.Config) (*Resources, error) {
	res := &Resources{}
	if !Needed(cfg) {
		return res, nil
	}

	awsCfg, err := InitAWS(ctx)
	if err != nil {
		return nil, err
	}
	res.Enabled = true

	if err := LoadGeminiKey(ctx, ssm.NewFromConfig(awsCfg), cfg.SSMAPIKeyParam); err != nil {
		return nil, err
	}
	if cfg.S3Bucket != "" {
		res.S3 = InitS3(awsCfg, cfg.S3Bucket)
	}
	if cfg.DynamoTable != "" {
		res.Dynamo = InitDynamo(awsCfg, cfg.DynamoTable, cfg.SessionTTL)
	}
	if cfg.EventBus != "" {
		res.Events = InitEvents(awsCfg, cfg.EventBus)
	}
	return res, nil
}

// Describe registers the enabled resources on a startup logger.
func (r *Resources) Describe(s *logging.StartupLogger, cfg *config.Config) *logging.StartupLogger {
	return s.
		S3Bucket("artifacts", cfg.S3Bucket).
		DynamoTable("history", cfg.DynamoTable).
		EventBus("stageEvents", cfg.EventBus).
		SSMParam("geminiApiKey", cfg.SSMAPIKeyParam).
		Feature("s3Export", r.S3 != nil).
		Feature("dynamoHistory", r.Dynamo != nil).
		Feature("stageEvents", r.Events != nil)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
