package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

const defaultGenerationModel = "gemini-1.5-flash"

type GenerationStatus int

const (
	// GenerationOK carries reply text.
	GenerationOK GenerationStatus = iota
	// GenerationEmpty means the response had no candidate text to extract.
	GenerationEmpty
	// GenerationMalformed means the response had a first part that is not text.
	GenerationMalformed
)

func (s GenerationStatus) String() string {
	switch s {
	case GenerationOK:
		return "ok"
	case GenerationEmpty:
		return "empty"
	case GenerationMalformed:
		return "malformed"
	}
	return fmt.Sprintf("GenerationStatus(%d)", int(s))
}

type GenerationResult struct {
	Status GenerationStatus
	Text   string
}

type GenerationConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// RequestsPerSecond caps outgoing calls. Zero disables the limit.
	RequestsPerSecond float64
}

// contentGenerator is the slice of *genai.GenerativeModel the proxy calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GenerationProxy turns one user message into one call to the Gemini generateContent endpoint.
// It never retries.
type GenerationProxy struct {
	client  *genai.Client
	model   contentGenerator
	timeout time.Duration
	limiter *rate.Limiter
}

func NewGenerationProxy(ctx context.Context, cfg GenerationConfig) (*GenerationProxy, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGenerationModel
	}
	p := newGenerationProxy(client.GenerativeModel(modelName), cfg.Timeout, cfg.RequestsPerSecond)
	p.client = client
	return p, nil
}

func newGenerationProxy(model contentGenerator, timeout time.Duration, rps float64) *GenerationProxy {
	p := &GenerationProxy{model: model, timeout: timeout}
	if rps > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return p
}

func (p *GenerationProxy) Close() {
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing GenAI client")
		} else {
			log.Info().Msg("GenAI client closed")
		}
	}
}

// Generate sends text as the sole content of a request. Transport failures and timeouts are
// returned as errors; the shape of a successful response is reported through the result status.
// Safety or recitation blocks are reported as GenerationEmpty.
func (p *GenerationProxy) Generate(ctx context.Context, text string) (GenerationResult, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return GenerationResult{}, fmt.Errorf("waiting for generation rate limit: %w", err)
		}
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.model.GenerateContent(ctx, genai.Text(text))
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		// A blocked prompt or candidate is a successful call that carries no reply text.
		log.Warn().Err(err).Msg("Gemini response blocked")
		return GenerationResult{Status: GenerationEmpty}, nil
	}
	if err != nil {
		return GenerationResult{}, fmt.Errorf("gemini generateContent request failed: %w", err)
	}
	result := classifyResponse(resp)
	log.Debug().Stringer("status", result.Status).Int("reply_len", len(result.Text)).Msg("Gemini response classified")
	return result, nil
}

// classifyResponse extracts the first candidate's first part without trusting any level of the
// response to be present.
func classifyResponse(resp *genai.GenerateContentResponse) GenerationResult {
	if resp == nil || len(resp.Candidates) == 0 {
		return GenerationResult{Status: GenerationEmpty}
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil || len(candidate.Content.Parts) == 0 || candidate.Content.Parts[0] == nil {
		return GenerationResult{Status: GenerationEmpty}
	}
	txt, ok := candidate.Content.Parts[0].(genai.Text)
	if !ok {
		return GenerationResult{Status: GenerationMalformed}
	}
	if strings.TrimSpace(string(txt)) == "" {
		return GenerationResult{Status: GenerationEmpty}
	}
	return GenerationResult{Status: GenerationOK, Text: string(txt)}
}
