package domain

import "strings"

// Vibe is one of the preset tones a brief can be written in.
type Vibe string

const (
	VibeModernMinimalist      Vibe = "Modern & Minimalist"
	VibeBoldDisruptive        Vibe = "Bold & Disruptive"
	VibeElegantLuxury         Vibe = "Elegant & Luxury"
	VibePlayfulFun            Vibe = "Playful & Fun"
	VibeCorporateProfessional Vibe = "Corporate & Professional"
)

// DefaultVibe is used when a request leaves the tone empty.
const DefaultVibe = VibeModernMinimalist

// Vibes lists the presets in display order.
func Vibes() []Vibe {
	return []Vibe{
		VibeModernMinimalist,
		VibeBoldDisruptive,
		VibeElegantLuxury,
		VibePlayfulFun,
		VibeCorporateProfessional,
	}
}

// ParseVibe resolves a user supplied tone. Matching ignores case and
// surrounding whitespace; empty input resolves to DefaultVibe.
func ParseVibe(s string) (Vibe, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultVibe, true
	}
	for _, v := range Vibes() {
		if strings.EqualFold(string(v), s) {
			return v, true
		}
	}
	return "", false
}

// BriefRequest is the input of a single brief generation.
type BriefRequest struct {
	BusinessName string
	Industry     string
	Vibe         Vibe
}

// BriefResult is a complete creative brief. All three fields are always set.
type BriefResult struct {
	Slogan          string `json:"slogan"`
	VisualDirection string `json:"visualDirection"`
	Strategy        string `json:"strategy"`
}
