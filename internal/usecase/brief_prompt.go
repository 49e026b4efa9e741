package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"studio-agent/internal/domain"
)

var briefSchema = domain.ResponseSchema{
	Name: "creative_brief",
	Fields: []domain.SchemaField{
		{Name: "slogan", Description: "A catchy slogan"},
		{Name: "visualDirection", Description: "Visual style suggestions"},
		{Name: "strategy", Description: "Strategic approach summary"},
	},
}

func buildBriefPrompt(req domain.BriefRequest) string {
	return strings.Join([]string{
		"Act as a world-class creative director. I need a mini creative brief for a client.",
		"",
		"Client Name: " + normalizePromptInput(req.BusinessName),
		"Industry: " + normalizePromptInput(req.Industry),
		"Desired Vibe: " + string(req.Vibe),
		"",
		"Provide:",
		"1. A catchy, modern Slogan (max 10 words).",
		"2. A Visual Direction suggestion (colors, style, mood) (max 30 words).",
		"3. A one-sentence Strategic Approach (max 30 words).",
	}, "\n")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

// briefValidator checks a decoded brief against briefSchema with every
// property additionally required to contain a non-whitespace character.
type briefValidator struct {
	schema *gojsonschema.Schema
}

func newBriefValidator(s domain.ResponseSchema) (*briefValidator, error) {
	doc := s.JSONSchema()
	if props, ok := doc["properties"].(map[string]any); ok {
		for _, p := range props {
			if prop, ok := p.(map[string]any); ok {
				prop["pattern"] = `\S`
			}
		}
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("usecase: compile brief schema: %w", err)
	}
	return &briefValidator{schema: compiled}, nil
}

func (v *briefValidator) parse(raw string) (domain.BriefResult, error) {
	raw = strings.TrimSpace(raw)

	var out domain.BriefResult
	dec := json.NewDecoder(bytes.NewBufferString(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return domain.BriefResult{}, fmt.Errorf("usecase: decode brief: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return domain.BriefResult{}, errors.New("usecase: decode brief: multiple JSON values")
		}
		return domain.BriefResult{}, fmt.Errorf("usecase: decode brief trailing data: %w", err)
	}

	res, err := v.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return domain.BriefResult{}, fmt.Errorf("usecase: validate brief: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return domain.BriefResult{}, fmt.Errorf("usecase: brief does not match schema: %s", strings.Join(msgs, "; "))
	}
	return out, nil
}
