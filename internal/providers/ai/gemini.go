package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/lumilearn/creditcore/internal/config"
)

type geminiClient struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiClient builds the Gemini-backed provider client. Without an API
// key it returns nil and insight generation runs on default suggestions only.
func NewGeminiClient(cfg config.Config) (Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, nil
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiClient{client: client, defaultModel: cfg.InsightModel}, nil
}

func (c *geminiClient) Complete(ctx context.Context, modelID string, messages []Message) (Completion, error) {
	if modelID == "" {
		modelID = c.defaultModel
	}
	model := c.client.GenerativeModel(modelID)

	var system []string
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n"))},
		}
	}
	if len(parts) == 0 {
		return Completion{}, errors.New("no prompt content")
	}

	res, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return Completion{}, fmt.Errorf("generate content: %w", err)
	}

	completion := Completion{}
	if res.UsageMetadata != nil {
		completion.TokensInput = int(res.UsageMetadata.PromptTokenCount)
		completion.TokensOutput = int(res.UsageMetadata.CandidatesTokenCount)
	}

	var out strings.Builder
	for _, candidate := range res.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out.WriteString(string(text))
			}
		}
		break
	}
	completion.Content = out.String()
	if completion.Content == "" {
		return Completion{}, errors.New("empty model response")
	}
	return completion, nil
}
