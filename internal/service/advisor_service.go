package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/openedu/course-enrollment-api/pkg/config"
	appErrors "github.com/openedu/course-enrollment-api/pkg/errors"
)

// AskRequest is the advisory question from an authenticated user.
type AskRequest struct {
	Prompt string `json:"prompt" validate:"required,max=2000"`
}

// AdvisorService proxies questions to an external text-completion API and
// returns a short academic advisory answer. Upstream failures are never
// exposed to clients beyond an opaque internal error.
type AdvisorService struct {
	client    *http.Client
	cfg       config.AdvisorConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAdvisorService constructs the advisor service.
func NewAdvisorService(client *http.Client, cfg config.AdvisorConfig, validate *validator.Validate, logger *zap.Logger) *AdvisorService {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdvisorService{client: client, cfg: cfg, validator: validate, logger: logger}
}

type advisorPayload struct {
	Contents []advisorContent `json:"contents"`
}

type advisorContent struct {
	Parts []advisorPart `json:"parts"`
}

type advisorPart struct {
	Text string `json:"text"`
}

type advisorResponse struct {
	Candidates []struct {
		Content struct {
			Parts []advisorPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Ask forwards the prompt upstream and returns the answer truncated to
// the configured word limit.
func (s *AdvisorService) Ask(ctx context.Context, req AskRequest) (string, error) {
	if err := s.validator.Struct(req); err != nil {
		return "", appErrors.Validation(err, "invalid advisory payload")
	}
	if s.cfg.APIKey == "" || s.cfg.Endpoint == "" {
		s.logger.Warn("advisor not configured")
		return "", appErrors.Clone(appErrors.ErrInternal, "advisory service unavailable")
	}

	prompt := fmt.Sprintf("You are an academic advisor for a university course enrollment system. Answer briefly. Question: %s", req.Prompt)
	body, err := json.Marshal(advisorPayload{
		Contents: []advisorContent{{Parts: []advisorPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build advisory request")
	}

	url := fmt.Sprintf("%s?key=%s", s.cfg.Endpoint, s.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build advisory request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("advisor upstream call failed", zap.Error(err))
		return "", appErrors.Clone(appErrors.ErrInternal, "advisory service unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("advisor upstream returned non-200", zap.Int("status", resp.StatusCode))
		return "", appErrors.Clone(appErrors.ErrInternal, "advisory service unavailable")
	}

	var parsed advisorResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		s.logger.Warn("advisor upstream returned malformed body", zap.Error(err))
		return "", appErrors.Clone(appErrors.ErrInternal, "advisory service unavailable")
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		s.logger.Warn("advisor upstream returned no candidates")
		return "", appErrors.Clone(appErrors.ErrInternal, "advisory service unavailable")
	}

	answer := strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text)
	return limitWords(answer, s.cfg.MaxWords), nil
}

// limitWords truncates text to at most n words, appending an ellipsis
// when content was cut.
func limitWords(text string, n int) string {
	if n <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ") + "..."
}
