package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"studio-agent/internal/domain"
	"studio-agent/internal/metrics"
)

const (
	defaultMaxFieldLength = 120

	msgMissingFields = "Please fill in all fields"
	msgBriefFailed   = "Failed to generate creative brief. Please try again."
)

type BriefService struct {
	llm         LLMClient
	model       string
	maxFieldLen int
	validator   *briefValidator
	logger      *slog.Logger
}

type BriefInput struct {
	BusinessName string
	Industry     string
	Vibe         string
}

type BriefOutput struct {
	Brief domain.BriefResult
	Vibe  domain.Vibe
}

func NewBriefService(llm LLMClient, model string, maxFieldLen int, logger *slog.Logger) (*BriefService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("usecase: brief model must not be empty")
	}
	if maxFieldLen <= 0 {
		maxFieldLen = defaultMaxFieldLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := newBriefValidator(briefSchema)
	if err != nil {
		return nil, err
	}
	return &BriefService{
		llm:         llm,
		model:       model,
		maxFieldLen: maxFieldLen,
		validator:   validator,
		logger:      logger,
	}, nil
}

// Generate validates the request, asks the provider for a structured brief
// and returns it only when all three fields are present. A single attempt is
// made.
func (s *BriefService) Generate(ctx context.Context, in BriefInput) (BriefOutput, error) {
	out, err := s.generate(ctx, in)
	code := "OK"
	var ucErr *Error
	if errors.As(err, &ucErr) {
		code = string(ucErr.Code)
		s.logger.WarnContext(ctx, "brief generation failed",
			"code", ucErr.Code,
			"reason", ucErr.Reason,
			"err", ucErr.Err,
		)
	}
	metrics.BriefRequests.WithLabelValues(code).Inc()
	return out, err
}

func (s *BriefService) generate(ctx context.Context, in BriefInput) (BriefOutput, error) {
	name := strings.TrimSpace(in.BusinessName)
	industry := strings.TrimSpace(in.Industry)
	if name == "" || industry == "" {
		return BriefOutput{}, newError(ErrorInvalidInput, "missing_fields", msgMissingFields, nil)
	}
	vibe, ok := domain.ParseVibe(in.Vibe)
	if !ok {
		return BriefOutput{}, newError(ErrorInvalidInput, "unknown_vibe", "Please choose one of the listed vibes", nil)
	}
	if utf8.RuneCountInString(name) > s.maxFieldLen || utf8.RuneCountInString(industry) > s.maxFieldLen {
		return BriefOutput{}, newError(ErrorInvalidInput, "field_too_long",
			fmt.Sprintf("Please keep each field under %d characters", s.maxFieldLen), nil)
	}

	prompt := buildBriefPrompt(domain.BriefRequest{
		BusinessName: name,
		Industry:     industry,
		Vibe:         vibe,
	})

	raw, err := s.llm.GenerateStructured(ctx, s.model, prompt, briefSchema)
	if err != nil {
		code, reason := classifyProviderError(err)
		return BriefOutput{}, newError(code, reason, msgBriefFailed, err)
	}
	if strings.TrimSpace(raw) == "" {
		return BriefOutput{}, newError(ErrorEmptyResponse, "empty_response", msgBriefFailed, nil)
	}

	brief, err := s.validator.parse(raw)
	if err != nil {
		return BriefOutput{}, newError(ErrorUpstream, "malformed_response", msgBriefFailed, err)
	}
	return BriefOutput{Brief: brief, Vibe: vibe}, nil
}
