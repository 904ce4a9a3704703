// Package gemini wraps the Google GenAI backend behind the narrow surface
// the pipeline needs: prompt execution with or without grounded search, the
// uploaded-file lifecycle, and reduction of grounding metadata to ranked
// source candidates.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/verificaicode/verifica-ai/internal/types"
)

// Part is one element of a prompt: either inline text or a previously
// uploaded file reference.
type Part struct {
	Text     string
	FileURI  string
	MIMEType string
}

// TextPart builds an inline text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// FilePart builds a part referencing an uploaded file.
func FilePart(f FileRef) Part {
	return Part{FileURI: f.URI, MIMEType: f.MIMEType}
}

// Result is a generation outcome plus whatever grounding the model reported.
type Result struct {
	Text string

	// ChunkURIs are the cited-chunk URLs when the backend returns
	// structured grounding.
	ChunkURIs []string

	// RenderedHTML is the grounding search entry point markup; some model
	// versions report citations only as anchors inside it.
	RenderedHTML string
}

// Generator executes prompts. Satisfied by Client; faked in tests.
type Generator interface {
	Generate(ctx context.Context, parts []Part, useSearch bool) (*Result, error)
}

// Searched-phase generation runs fully deterministic; the analysis phase
// keeps a little temperature, matching the two-phase protocol.
const (
	searchTemperature   float32 = 0.0
	analysisTemperature float32 = 0.3
)

// Client talks to the Gemini API.
type Client struct {
	genai        *genai.Client
	model        string
	pollInterval pollInterval
	logger       *zap.Logger
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		genai:        client,
		model:        model,
		pollInterval: defaultPollInterval,
		logger:       logger,
	}, nil
}

var _ Generator = (*Client)(nil)

// Generate executes the prompt parts. With useSearch the Google Search tool
// is attached and grounding metadata is captured from the first candidate.
func (c *Client) Generate(ctx context.Context, parts []Part, useSearch bool) (*Result, error) {
	genParts := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.FileURI != "" {
			genParts = append(genParts, genai.NewPartFromURI(p.FileURI, p.MIMEType))
			continue
		}
		genParts = append(genParts, genai.NewPartFromText(p.Text))
	}
	contents := []*genai.Content{genai.NewContentFromParts(genParts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT"},
		Temperature:        genai.Ptr(analysisTemperature),
	}
	if useSearch {
		cfg.Temperature = genai.Ptr(searchTemperature)
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, mapAPIError(err)
	}

	result := &Result{Text: resp.Text()}

	if len(resp.Candidates) > 0 {
		if gm := resp.Candidates[0].GroundingMetadata; gm != nil {
			for _, chunk := range gm.GroundingChunks {
				if chunk.Web != nil && chunk.Web.URI != "" {
					result.ChunkURIs = append(result.ChunkURIs, chunk.Web.URI)
				}
			}
			if gm.SearchEntryPoint != nil {
				result.RenderedHTML = gm.SearchEntryPoint.RenderedContent
			}
		}
	}

	c.logger.Debug("gemini generate",
		zap.Bool("search", useSearch),
		zap.Int("parts", len(parts)),
		zap.Int("chunks", len(result.ChunkURIs)),
		zap.Int("text_len", len(result.Text)))

	return result, nil
}

// mapAPIError converts backend rate-limit responses to the pipeline's quota
// sentinel; everything else passes through.
func mapAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return fmt.Errorf("%w: %s", types.ErrQuotaExceeded, apiErr.Message)
		}
	}
	return err
}
