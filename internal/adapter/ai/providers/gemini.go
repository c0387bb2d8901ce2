package providers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/skillsift/evalengine/internal/domain"
)

// Gemini speaks the generateContent shape. The credential travels in the
// x-goog-api-key header rather than the key query parameter so it never
// appears in URLs, access logs, or trace attributes.
type Gemini struct{ base }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

// Invoke implements domain.ProviderAdapter.
func (p *Gemini) Invoke(ctx domain.Context, req domain.EvaluationRequest) (string, error) {
	cred, err := p.credential(req)
	if err != nil {
		return "", err
	}
	model, err := p.model(req)
	if err != nil {
		return "", err
	}
	system, user := p.prompter.Build(model, req.DocumentText, req.JobDescription)
	body, _ := json.Marshal(geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: system}}},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: user}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxOutputTokens,
		},
	})
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.cfg.BaseURL, url.PathEscape(model))
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrInternal, p.cfg.ID, err)
	}
	r.Header.Set("x-goog-api-key", cred)
	r.Header.Set("Content-Type", "application/json")

	respBytes, err := p.send(r)
	if err != nil {
		return "", err
	}
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return "", fmt.Errorf("%w: %s: decode response: %v", domain.ErrSchemaInvalid, p.cfg.ID, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: %s: empty candidates", domain.ErrSchemaInvalid, p.cfg.ID)
	}
	var sb strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: %s: candidate has no text parts", domain.ErrSchemaInvalid, p.cfg.ID)
	}
	return sb.String(), nil
}
