package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/skillsift/evalengine/internal/domain"
)

// OpenAICompat speaks the OpenAI chat completions shape shared by openai,
// xai, mistral, perplexity, and together.
type OpenAICompat struct{ base }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// Invoke implements domain.ProviderAdapter.
func (p *OpenAICompat) Invoke(ctx domain.Context, req domain.EvaluationRequest) (string, error) {
	cred, err := p.credential(req)
	if err != nil {
		return "", err
	}
	model, err := p.model(req)
	if err != nil {
		return "", err
	}
	system, user := p.prompter.Build(model, req.DocumentText, req.JobDescription)
	body, _ := json.Marshal(chatCompletionRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxOutputTokens,
	})
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrInternal, p.cfg.ID, err)
	}
	r.Header.Set("Authorization", "Bearer "+cred)
	r.Header.Set("Content-Type", "application/json")

	respBytes, err := p.send(r)
	if err != nil {
		return "", err
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return "", fmt.Errorf("%w: %s: decode response: %v", domain.ErrSchemaInvalid, p.cfg.ID, err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: %s: empty choices", domain.ErrSchemaInvalid, p.cfg.ID)
	}
	return out.Choices[0].Message.Content, nil
}
