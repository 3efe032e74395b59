// Package clip holds the source media model plus the quality scoring and
// selection heuristics that feed the auto-edit timeline.
package clip

import "github.com/google/uuid"

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// ImageDuration is the synthetic native duration assigned to still images.
const ImageDuration = 3.0

type Transition string

const (
	TransitionFade  Transition = "fade"
	TransitionSlide Transition = "slide"
	TransitionZoom  Transition = "zoom"
	TransitionNone  Transition = "none"
)

// Transitions lists every valid transition in round-robin order.
var Transitions = []Transition{TransitionFade, TransitionSlide, TransitionZoom, TransitionNone}

func (t Transition) Valid() bool {
	for _, v := range Transitions {
		if t == v {
			return true
		}
	}
	return false
}

// Filters are per-clip color multipliers applied at render time.
type Filters struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Saturation float64 `json:"saturation"`
}

func DefaultFilters() Filters {
	return Filters{Brightness: 1.0, Contrast: 1.0, Saturation: 1.0}
}

// Clip is one candidate media item. Score is only meaningful once Scored
// is set by the scorer.
type Clip struct {
	ID             string     `json:"id"`
	SourcePath     string     `json:"source_path"`
	Kind           Kind       `json:"kind"`
	NativeDuration float64    `json:"native_duration"`
	Score          float64    `json:"score"`
	Scored         bool       `json:"scored"`
	Filters        Filters    `json:"filters"`
	TrimStart      float64    `json:"trim_start"`
	TrimEnd        float64    `json:"trim_end"`
	Transition     Transition `json:"transition"`
}

// New creates a clip with default filters and no transition.
func New(sourcePath string, kind Kind, nativeDuration float64) *Clip {
	return &Clip{
		ID:             uuid.NewString(),
		SourcePath:     sourcePath,
		Kind:           kind,
		NativeDuration: nativeDuration,
		Filters:        DefaultFilters(),
		Transition:     TransitionNone,
	}
}

// EffectiveDuration is the play length after trimming.
func (c *Clip) EffectiveDuration() float64 {
	return c.NativeDuration - c.TrimStart - c.TrimEnd
}
