// Package transcoder wraps the external ffmpeg/ffprobe binaries behind
// the rendering contract the pipeline depends on. The pipeline receives
// a Transcoder at construction; nothing in this module is global.
package transcoder

import (
	"context"
	"time"

	"github.com/reelcut/reelcut-server/internal/clip"
)

// Error carries the transcoder's own failure message, preserved verbatim
// for diagnostics.
type Error struct {
	Op     string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "transcoder: " + e.Op + " failed"
	}
	return "transcoder: " + e.Op + " failed: " + e.Detail
}

// ProbeResult describes one media file.
type ProbeResult struct {
	Duration float64
	Width    int
	Height   int
	HasAudio bool
}

// RenderEntry is one clip occurrence in render order.
type RenderEntry struct {
	SourcePath string
	Kind       clip.Kind
	TrimStart  float64
	TrimEnd    float64
	// NativeDuration is the source's untrimmed play length; the trims
	// are measured against it.
	NativeDuration float64
	// SlotDuration bounds how long the clip occupies the reel; images
	// are looped/stilled to fill it.
	SlotDuration float64
	Filters      clip.Filters
	Transition   clip.Transition
}

// RenderSpec is the complete input to one render invocation.
type RenderSpec struct {
	Entries     []RenderEntry
	AudioPath   string  // empty = no music track
	AudioVolume float64 // relative music volume, 0..1
}

// Params are the caller-supplied encode targets.
type Params struct {
	Quality string // draft | high | ultra
	Width   int
	Height  int
	FPS     int
	Format  string // mp4 | webm | mov
}

// DefaultParams returns the product defaults: 1080×1920 portrait mp4.
func DefaultParams() Params {
	return Params{Quality: "high", Width: 1080, Height: 1920, FPS: 30, Format: "mp4"}
}

// Transcoder is the pipeline's view of the external codec engine.
type Transcoder interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	ExtractFrame(ctx context.Context, sourcePath string, offset float64, outPath string) error
	ExtractAudio(ctx context.Context, sourcePath, outPath string) error
	Render(ctx context.Context, spec RenderSpec, params Params, workDir, outPath string) error
}

// Config holds binary paths and per-operation timeouts.
type Config struct {
	FFmpegPath     string // empty = look up on PATH
	FFprobePath    string
	ProbeTimeout   time.Duration
	ExtractTimeout time.Duration
	RenderTimeout  time.Duration
}
