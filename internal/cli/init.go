// Package cli holds the terminal helpers shared by the stylist binaries.
package cli

import (
	"context"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/ai-virtual-stylist/internal/auth"
	"github.com/fpang/ai-virtual-stylist/internal/chat"
	"github.com/fpang/ai-virtual-stylist/internal/metrics"
)

// InitGeminiClient creates a Gemini client and, unless skipValidation is
// set, validates the API key against validationModel. Exits fatally on
// failure.
func InitGeminiClient(ctx context.Context, validationModel string, skipValidation bool, sink *metrics.Sink) *genai.Client {
	apiKey, err := auth.GetAPIKey()
	if err != nil {
		HandleValidationError(&auth.ValidationError{Type: auth.ErrTypeNoKey, Message: "no API key", Err: err})
	}

	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}

	log.Info().Msg("connection successful - Gemini client initialized")

	if skipValidation {
		log.Debug().Msg("Skipping API key validation")
		return client
	}

	if validationModel == "" {
		validationModel = chat.DefaultValidationModel
	}
	if err := auth.ValidateAPIKey(ctx, client.Models, validationModel, sink); err != nil {
		HandleValidationError(err)
	}

	log.Info().Msg("API key validation complete - ready for operations")
	return client
}
