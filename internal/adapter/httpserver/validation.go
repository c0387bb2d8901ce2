package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/skillsift/evalengine/internal/domain"
)

// weightsDTO carries an explicit hybrid weight override. Values are
// validated and normalized by the orchestrator, not here.
type weightsDTO struct {
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
}

type evaluateRequest struct {
	DocumentText       string      `json:"document_text" validate:"required"`
	JobDescriptionText string      `json:"job_description_text" validate:"required"`
	Provider           string      `json:"provider"`
	Model              string      `json:"model"`
	Weights            *weightsDTO `json:"weights"`
}

type batchItem struct {
	RequestID    string `json:"request_id"`
	DocumentText string `json:"document_text" validate:"required"`
}

type batchRequest struct {
	Items              []batchItem `json:"items" validate:"required,min=1,dive"`
	JobDescriptionText string      `json:"job_description_text" validate:"required"`
	Provider           string      `json:"provider"`
	Model              string      `json:"model"`
	Weights            *weightsDTO `json:"weights"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// decodeValid decodes the JSON body into v and runs struct validation.
// Validation failures come back as ErrInvalidArgument with a field→tag map
// in details.
func decodeValid(r *http.Request, v any) (map[string]string, error) {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return nil, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	if err := getValidator().Struct(v); err != nil {
		details := map[string]string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		return details, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument)
	}
	return nil, nil
}

func (d *weightsDTO) toDomain() *domain.Weights {
	if d == nil {
		return nil
	}
	return &domain.Weights{Semantic: d.Semantic, Lexical: d.Lexical}
}
