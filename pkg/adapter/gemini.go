package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/myxstack/xmcp/pkg/tool"
	"github.com/myxstack/xmcp/pkg/utils/logging"
	"google.golang.org/genai"
)

// FallbackResponse is returned when the model produces no text at all.
// Empty results are never surfaced as errors.
const FallbackResponse = "No response."

// Tool call limit per reasoning request
const maxToolIterations = 8

// Reasoner is the hosted reasoning call used by both loops. Implementations
// carry their own timeout and retry behavior; the loops treat the call as
// opaque.
type Reasoner interface {
	Generate(ctx context.Context, prompt string, registry *tool.Registry) (string, error)
}

type GeminiClient struct {
	client *genai.Client
	model  string
}

type GeminiOption func(*GeminiClient)

func WithModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.model = model
	}
}

// NewGemini creates a reasoning client against the hosted Gemini API.
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, goerr.New("api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client: client,
		model:  "gemini-2.5-flash",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate sends the prompt and runs the function-call loop until the model
// stops requesting tools or the iteration cap is reached. All text parts are
// accumulated in arrival order; the trimmed result falls back to
// FallbackResponse when empty.
func (g *GeminiClient) Generate(ctx context.Context, prompt string, registry *tool.Registry) (string, error) {
	logger := logging.From(ctx)

	config := &genai.GenerateContentConfig{}
	if registry != nil {
		config.Tools = registry.Specs()
		if toolPrompt := registry.Prompts(ctx); toolPrompt != "" {
			config.SystemInstruction = genai.NewContentFromText(toolPrompt, "")
		}
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	var accumulated strings.Builder

	for i := 0; i < maxToolIterations; i++ {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", g.model))
		}

		hasFunctionCall := false
		var functionResponses []*genai.Part

		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			contents = append(contents, candidate.Content)

			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					accumulated.WriteString(part.Text)
				}

				if part.FunctionCall != nil && registry != nil {
					hasFunctionCall = true
					funcResp, execErr := registry.Execute(ctx, *part.FunctionCall)
					if execErr != nil {
						logger.Warn("tool call failed",
							"tool", part.FunctionCall.Name,
							"error", execErr)
						funcResp = &genai.FunctionResponse{
							Name:     part.FunctionCall.Name,
							Response: map[string]any{"error": execErr.Error()},
						}
					}
					functionResponses = append(functionResponses, &genai.Part{
						FunctionResponse: funcResp,
					})
				}
			}
		}

		if !hasFunctionCall {
			break
		}
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: functionResponses,
		})
	}

	result := strings.TrimSpace(accumulated.String())
	if result == "" {
		return FallbackResponse, nil
	}
	return result, nil
}
