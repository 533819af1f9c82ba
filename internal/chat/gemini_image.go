package chat

// gemini_image.go sends person, garment, and try-on photos to the Gemini
// image model and turns the first inline image in the response into a
// data URL.

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fpang/ai-virtual-stylist/internal/assets"
	"github.com/fpang/ai-virtual-stylist/internal/failure"
	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
	"github.com/fpang/ai-virtual-stylist/internal/metrics"
	"github.com/fpang/ai-virtual-stylist/internal/persona"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Messages shown to the user when the model answers without an image.
const (
	MsgCompositeNoImage = "AI failed to generate an image. Please try again."
	MsgRestyleNoImage   = "AI failed to generate the final image. Please try again."
	MsgRestylePrompt    = "failed to build the restyle instruction"
)

// Replaced in tests.
var renderRestylePrompt = assets.RenderRestylePrompt

// Operation names used in logs and metrics.
const (
	OpComposite = "composite"
	OpRestyle   = "restyle"
)

// contentGenerator is the slice of *genai.Models the stylist client needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Options configures a StylistClient.
type Options struct {
	// Model is the Gemini image model ID. Empty means DefaultModelName.
	Model string
	// MaxInputDimension downscales inputs whose longer side exceeds it. 0 disables.
	MaxInputDimension int
	// Metrics receives one EMF record per call. nil disables metrics.
	Metrics *metrics.Sink
}

// StylistClient performs the two generation stages against Gemini.
// Each call is a single request: no retries, no caching.
type StylistClient struct {
	models  contentGenerator
	model   string
	maxDim  int
	metrics *metrics.Sink
}

// NewStylistClient wraps an authenticated Gemini client.
func NewStylistClient(client *genai.Client, opts Options) *StylistClient {
	return newStylistClient(client.Models, opts)
}

func newStylistClient(models contentGenerator, opts Options) *StylistClient {
	model := opts.Model
	if model == "" {
		model = DefaultModelName
	}
	return &StylistClient{
		models:  models,
		model:   model,
		maxDim:  opts.MaxInputDimension,
		metrics: opts.Metrics,
	}
}

// Model returns the Gemini model ID used for generation.
func (c *StylistClient) Model() string {
	return c.model
}

// Composite dresses the person from the first record in the garment from the
// second and returns the result as a data URL.
func (c *StylistClient) Composite(ctx context.Context, person, garment imagefile.ImageRecord) (imagefile.DataURL, error) {
	if person.IsZero() || garment.IsZero() {
		return "", failure.Generation("both a person image and a garment image are required", nil)
	}
	return c.generate(ctx, OpComposite, []imagefile.ImageRecord{person, garment}, assets.TryOnPrompt(), MsgCompositeNoImage)
}

// Restyle replaces the face and hair in base with those of the given persona.
func (c *StylistClient) Restyle(ctx context.Context, base imagefile.ImageRecord, p persona.Persona) (imagefile.DataURL, error) {
	if base.IsZero() {
		return "", failure.Generation("a try-on image is required", nil)
	}
	if !p.Valid() {
		return "", failure.Generation("unknown persona "+string(p), nil)
	}
	instruction, err := renderRestylePrompt(string(p))
	if err != nil {
		return "", failure.Generation(MsgRestylePrompt, err)
	}
	return c.generate(ctx, OpRestyle, []imagefile.ImageRecord{base}, instruction, MsgRestyleNoImage)
}

// generate sends the images followed by the instruction as one user turn and
// extracts the first inline image from the first candidate.
func (c *StylistClient) generate(ctx context.Context, op string, images []imagefile.ImageRecord, instruction, noImageMsg string) (imagefile.DataURL, error) {
	startTime := time.Now()

	parts := make([]*genai.Part, 0, len(images)+1)
	inputBytes := 0
	for _, img := range images {
		fitted, err := imagefile.Fit(img, c.maxDim)
		if err != nil {
			c.record(op, "invalid_input", startTime, 0)
			return "", failure.Generation("failed to prepare input image", err)
		}
		inputBytes += fitted.Size()
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: fitted.MIMEType(),
				Data:     fitted.Data(),
			},
		})
	}
	parts = append(parts, &genai.Part{Text: instruction})

	log.Info().
		Str("operation", op).
		Str("model", c.model).
		Int("images", len(images)).
		Int("input_bytes", inputBytes).
		Msg("Sending images to Gemini")

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		fe, result := classifyGenerationError(err)
		log.Error().
			Err(err).
			Str("operation", op).
			Dur("duration", time.Since(startTime)).
			Msg("Gemini image generation failed")
		c.record(op, result, startTime, 0)
		return "", fe
	}

	blob, text := extractImage(resp)
	if blob == nil {
		log.Warn().
			Str("operation", op).
			Str("text", truncateString(text, 200)).
			Str("finish_reason", finishReason(resp)).
			Dur("duration", time.Since(startTime)).
			Msg("Gemini returned no image")
		c.record(op, "no_image", startTime, 0)
		return "", failure.Generation(noImageMsg, nil)
	}

	mimeType := blob.MIMEType
	if mimeType == "" {
		mimeType = imagefile.DefaultMIMEType
	}

	evt := log.Info().
		Str("operation", op).
		Int("output_bytes", len(blob.Data)).
		Str("output_mime", mimeType).
		Dur("duration", time.Since(startTime))
	if usage := resp.UsageMetadata; usage != nil {
		evt = evt.
			Int32("prompt_tokens", usage.PromptTokenCount).
			Int32("candidate_tokens", usage.CandidatesTokenCount).
			Int32("total_tokens", usage.TotalTokenCount)
	}
	evt.Msg("Gemini image generation complete")

	c.record(op, "success", startTime, len(blob.Data))
	return imagefile.MakeDataURL(mimeType, blob.Data), nil
}

func (c *StylistClient) record(op, result string, start time.Time, outputBytes int) {
	c.metrics.Generation(op, c.model, result, time.Since(start), outputBytes)
}

// extractImage returns the first non-empty inline blob of the first candidate
// along with any text the model sent alongside it.
func extractImage(resp *genai.GenerateContentResponse) (*genai.Blob, string) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ""
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return nil, ""
	}

	var (
		blob *genai.Blob
		text strings.Builder
	)
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if blob == nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			blob = part.InlineData
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	return blob, text.String()
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return ""
	}
	return string(resp.Candidates[0].FinishReason)
}

// classifyGenerationError maps a GenerateContent error to a user-facing
// failure and a metrics result label.
func classifyGenerationError(err error) (*failure.Error, string) {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 400:
			return failure.Generation("The image model rejected the request", err), "api_error"
		case apiErr.Code == 401 || apiErr.Code == 403:
			return failure.Generation("API key is invalid, expired, or lacks permissions", err), "api_error"
		case apiErr.Code == 429:
			return failure.Generation("API rate limit exceeded - try again later", err), "quota"
		case apiErr.Code >= 500:
			return failure.Generation("Gemini API server error - try again later", err), "api_error"
		default:
			return failure.Generation("Gemini API error", err), "api_error"
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failure.Generation("Image generation was interrupted", err), "canceled"
	}
	return failure.Generation("Failed to reach the image model", err), "transport_error"
}

// truncateString truncates a string to maxLen, appending "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
