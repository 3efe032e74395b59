package render

import (
	"encoding/json"
	"fmt"

	"github.com/reelcut/reelcut-server/internal/clip"
	"github.com/reelcut/reelcut-server/internal/timeline"
)

// Composition is the persisted assembly state for one job: the timeline,
// the clips it references, and the beat analysis behind it. It is stored
// as JSON on the job row so timeline edits and re-renders survive
// restarts.
type Composition struct {
	Timeline  timeline.Timeline `json:"timeline"`
	Clips     []*clip.Clip      `json:"clips"`
	AudioPath string            `json:"audio_path,omitempty"`
	Beats     []float64         `json:"beats,omitempty"`
	Tempo     int               `json:"tempo,omitempty"`
	Waveform  []float64         `json:"waveform,omitempty"`
	Mood      string            `json:"mood,omitempty"`
}

// ClipByID returns the clip with the given ID, or nil.
func (c *Composition) ClipByID(id string) *clip.Clip {
	for _, cl := range c.Clips {
		if cl.ID == id {
			return cl
		}
	}
	return nil
}

// Encode serializes the composition for the job row.
func (c *Composition) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding composition: %w", err)
	}
	return string(b), nil
}

// DecodeComposition parses a stored composition.
func DecodeComposition(data string) (*Composition, error) {
	var c Composition
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decoding composition: %w", err)
	}
	return &c, nil
}
