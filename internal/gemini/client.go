package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/observability"
	"comic-studio/backend/pkg/resilience"
)

const (
	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "gemini-2.5-flash-image-preview"
	DefaultTimeout    = 2 * time.Minute

	defaultImageMIME = "image/png"
)

// Config configures the Gemini client
type Config struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	Timeout    time.Duration
}

// Client talks to the Gemini API. It is safe for concurrent use.
type Client struct {
	models     *genai.Models
	textModel  string
	imageModel string
	timeout    time.Duration

	breaker *resilience.CircuitBreaker
	metrics *observability.Metrics
	tracer  trace.Tracer
	log     *logger.Logger
}

// New creates a Gemini API client. A nil breaker or metrics falls back to defaults.
func New(ctx context.Context, cfg Config, breaker *resilience.CircuitBreaker, metrics *observability.Metrics, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	if cfg.TextModel == "" {
		cfg.TextModel = DefaultTextModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("gemini"), log)
	}
	if metrics == nil {
		metrics = observability.Noop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		models:     client.Models,
		textModel:  cfg.TextModel,
		imageModel: cfg.ImageModel,
		timeout:    cfg.Timeout,
		breaker:    breaker,
		metrics:    metrics,
		tracer:     otel.Tracer("comic-studio/gemini"),
		log:        log.With("component", "gemini"),
	}, nil
}

// Breaker exposes the circuit breaker for health reporting
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// ImageModel returns the model used for panel images
func (c *Client) ImageModel() string {
	return c.imageModel
}

// GenerateStructuredPanels asks the text model for JSON conforming to schema.
// The returned payload is valid JSON with code fences removed.
func (c *Client) GenerateStructuredPanels(ctx context.Context, instruction string, schema any, script string) (json.RawMessage, error) {
	const op = "generate_structured"
	var out json.RawMessage

	err := c.call(ctx, op, func(ctx context.Context) error {
		resp, err := c.models.GenerateContent(ctx, c.textModel, genai.Text(script), &genai.GenerateContentConfig{
			SystemInstruction:  genai.NewContentFromText(instruction, genai.RoleUser),
			ResponseMIMEType:   "application/json",
			ResponseJsonSchema: schema,
		})
		if err != nil {
			return upstreamError(op, err)
		}

		text := CleanJSON(resp.Text())
		if text == "" {
			return malformed(op, "empty response")
		}
		if !json.Valid([]byte(text)) {
			return malformed(op, "response is not valid JSON")
		}
		out = json.RawMessage(text)
		return nil
	})
	return out, err
}

// GenerateText runs a single blocking completion and returns the trimmed reply
func (c *Client) GenerateText(ctx context.Context, instruction, message string) (string, error) {
	const op = "generate_text"
	var out string

	err := c.call(ctx, op, func(ctx context.Context) error {
		resp, err := c.models.GenerateContent(ctx, c.textModel, genai.Text(message), textConfig(instruction))
		if err != nil {
			return upstreamError(op, err)
		}
		out = strings.TrimSpace(resp.Text())
		if out == "" {
			return malformed(op, "empty response")
		}
		return nil
	})
	return out, err
}

// GenerateTextStream streams a completion as text chunks. The sequence is lazy
// and single-use; a failure is yielded once, after any chunks already delivered.
func (c *Client) GenerateTextStream(ctx context.Context, instruction, message string) iter.Seq2[string, error] {
	const op = "generate_text_stream"

	return func(yield func(string, error) bool) {
		ctx, span := c.tracer.Start(ctx, "gemini."+op)
		defer span.End()

		if err := c.breaker.Allow(); err != nil {
			c.metrics.RecordUpstream(ctx, op, 0, err)
			yield("", upstreamError(op, err))
			return
		}

		start := time.Now()
		streamCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var streamErr error
		chunks := 0
		finished := false
		for resp, err := range c.models.GenerateContentStream(streamCtx, c.textModel, genai.Text(message), textConfig(instruction)) {
			if err != nil {
				streamErr = c.classify(ctx, op, upstreamError(op, err))
				break
			}
			if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
				finished = true
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			chunks++
			if !yield(text, nil) {
				// consumer stopped early
				c.breaker.Record(nil)
				c.metrics.RecordUpstream(ctx, op, time.Since(start), nil)
				return
			}
		}

		// genai ends the sequence quietly on a dropped connection or an in-band error frame
		if streamErr == nil && !finished {
			streamErr = c.classify(ctx, op, upstreamError(op, io.ErrUnexpectedEOF))
		}

		c.breaker.Record(countsAgainstBreaker(streamErr))
		c.metrics.RecordUpstream(ctx, op, time.Since(start), streamErr)
		span.SetAttributes(attribute.Int("chunks", chunks))
		if streamErr != nil {
			span.RecordError(streamErr)
			span.SetStatus(codes.Error, streamErr.Error())
			yield("", streamErr)
		}
	}
}

// GenerateImage renders prompt with the image model and returns the first image as a data URI
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	const op = "generate_image"
	var out string

	err := c.call(ctx, op, func(ctx context.Context) error {
		resp, err := c.models.GenerateContent(ctx, c.imageModel, genai.Text(prompt), &genai.GenerateContentConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		})
		if err != nil {
			return upstreamError(op, err)
		}

		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return ErrNoImageProduced
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = defaultImageMIME
				}
				out = EncodeDataURI(mimeType, part.InlineData.Data)
				return nil
			}
		}
		return ErrNoImageProduced
	})
	return out, err
}

// call runs fn under a span, the circuit breaker and the per-call timeout
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "gemini."+op)
	defer span.End()

	if err := c.breaker.Allow(); err != nil {
		c.metrics.RecordUpstream(ctx, op, 0, err)
		span.SetStatus(codes.Error, err.Error())
		return upstreamError(op, err)
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := fn(callCtx)
	cancel()

	err = c.classify(ctx, op, err)
	c.breaker.Record(countsAgainstBreaker(err))
	c.metrics.RecordUpstream(ctx, op, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Debug("gemini call failed", "operation", op, "error", err.Error())
	}
	return err
}

// classify reports caller cancellation as such rather than as an upstream failure
func (c *Client) classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return err
}

func textConfig(instruction string) *genai.GenerateContentConfig {
	if instruction == "" {
		return nil
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
	}
}
