package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/skillsift/evalengine/internal/domain"
)

// Anthropic speaks the messages shape. The system prompt is a top-level
// field and replies arrive as a list of typed content blocks.
type Anthropic struct{ base }

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	System      string        `json:"system"`
	Messages    []chatMessage `json:"messages"`
}

// Invoke implements domain.ProviderAdapter.
func (p *Anthropic) Invoke(ctx domain.Context, req domain.EvaluationRequest) (string, error) {
	cred, err := p.credential(req)
	if err != nil {
		return "", err
	}
	model, err := p.model(req)
	if err != nil {
		return "", err
	}
	system, user := p.prompter.Build(model, req.DocumentText, req.JobDescription)
	body, _ := json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxOutputTokens,
		Temperature: temperature,
		System:      system,
		Messages:    []chatMessage{{Role: "user", Content: user}},
	})
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrInternal, p.cfg.ID, err)
	}
	r.Header.Set("x-api-key", cred)
	r.Header.Set("anthropic-version", anthropicVersion)
	r.Header.Set("Content-Type", "application/json")

	respBytes, err := p.send(r)
	if err != nil {
		return "", err
	}
	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return "", fmt.Errorf("%w: %s: decode response: %v", domain.ErrSchemaInvalid, p.cfg.ID, err)
	}
	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: %s: no text content blocks", domain.ErrSchemaInvalid, p.cfg.ID)
	}
	return sb.String(), nil
}
