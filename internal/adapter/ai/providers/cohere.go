package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/skillsift/evalengine/internal/domain"
)

// Cohere speaks the chat shape: a single message string with the system
// prompt carried as the preamble.
type Cohere struct{ base }

type cohereRequest struct {
	Model       string  `json:"model"`
	Preamble    string  `json:"preamble,omitempty"`
	Message     string  `json:"message"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Invoke implements domain.ProviderAdapter.
func (p *Cohere) Invoke(ctx domain.Context, req domain.EvaluationRequest) (string, error) {
	cred, err := p.credential(req)
	if err != nil {
		return "", err
	}
	model, err := p.model(req)
	if err != nil {
		return "", err
	}
	system, user := p.prompter.Build(model, req.DocumentText, req.JobDescription)
	body, _ := json.Marshal(cohereRequest{
		Model:       model,
		Preamble:    system,
		Message:     user,
		Temperature: temperature,
		MaxTokens:   maxOutputTokens,
	})
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat", bytes.NewReader(body))
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
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return "", fmt.Errorf("%w: %s: decode response: %v", domain.ErrSchemaInvalid, p.cfg.ID, err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("%w: %s: empty text", domain.ErrSchemaInvalid, p.cfg.ID)
	}
	return out.Text, nil
}
