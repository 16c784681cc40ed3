package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ClientConfig wires an OpenAI Responses API client.
type ClientConfig struct {
	// URL is the Responses API endpoint.
	URL string
	// APIKey is sent as a bearer token.
	APIKey string
	// Models maps each tier to a concrete model name.
	Models map[Tier]string
	// HTTPClient defaults to a client without a timeout; completion calls
	// run as long as the model needs and are cut off only through ctx.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client calls the OpenAI Responses API.
type Client struct {
	url        string
	apiKey     string
	models     map[Tier]string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient validates the config and returns a ready client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("responses url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("model map is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		models:     cfg.Models,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}, nil
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type responsesText struct {
	Format responsesFormat `json:"format"`
}

type responsesReasoning struct {
	Effort string `json:"effort"`
}

type responsesRequest struct {
	Model           string              `json:"model"`
	Input           []responsesInput    `json:"input"`
	MaxOutputTokens int                 `json:"max_output_tokens,omitempty"`
	Reasoning       *responsesReasoning `json:"reasoning,omitempty"`
	Text            *responsesText      `json:"text,omitempty"`
}

type responsesResult struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete submits one completion call. Schema-governed calls are re-validated
// locally; a response that fails validation returns ErrSchemaViolation with the
// raw text preserved in Response.Text.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	model, ok := c.models[req.Tier]
	if !ok {
		model = c.models[TierMedium]
	}
	if model == "" {
		return Response{}, fmt.Errorf("no model configured for tier %q", req.Tier)
	}

	body := responsesRequest{
		Model:           model,
		MaxOutputTokens: req.MaxOutput,
		Reasoning:       reasoningFor(req.Tier),
	}
	for _, msg := range req.Messages {
		body.Input = append(body.Input, responsesInput{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	if req.Schema != nil {
		body.Text = &responsesText{Format: responsesFormat{
			Type:   "json_schema",
			Name:   req.Schema.Name,
			Strict: true,
			Schema: req.Schema.Document,
		}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("call responses api: %v: %w", err, ErrTransport)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Response{}, fmt.Errorf("responses api status %d: %s: %w", res.StatusCode, strings.TrimSpace(string(detail)), ErrTransport)
	}

	var result responsesResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return Response{}, fmt.Errorf("decode response: %v: %w", err, ErrTransport)
	}
	if result.Error != nil && result.Error.Message != "" {
		return Response{}, fmt.Errorf("responses api error: %s: %w", result.Error.Message, ErrTransport)
	}

	text := result.OutputText
	if text == "" {
		for _, item := range result.Output {
			for _, content := range item.Content {
				if content.Type == "output_text" && content.Text != "" {
					text = content.Text
					break
				}
			}
			if text != "" {
				break
			}
		}
	}
	if text == "" {
		return Response{}, fmt.Errorf("responses api returned no output text: %w", ErrTransport)
	}

	c.logger.Debug().
		Str("caller", req.Caller).
		Str("model", model).
		Dur("elapsed", time.Since(started)).
		Msg("completion finished")

	if req.Schema == nil {
		return Response{Text: text}, nil
	}

	raw := json.RawMessage(strings.TrimSpace(text))
	if err := ValidateAgainst(req.Schema, raw); err != nil {
		return Response{Text: text}, err
	}
	return Response{Text: text, Value: raw}, nil
}

// reasoningFor keeps cheap tiers on minimal reasoning so routing and slim
// rewrites stay fast.
func reasoningFor(tier Tier) *responsesReasoning {
	switch tier {
	case TierLow:
		return &responsesReasoning{Effort: "minimal"}
	case TierMedium, TierHigh:
		return &responsesReasoning{Effort: "low"}
	case TierVeryHigh:
		return &responsesReasoning{Effort: "medium"}
	default:
		return nil
	}
}
