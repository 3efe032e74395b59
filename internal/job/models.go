// Package job defines render jobs, their persistence, and the polling
// runner that feeds queued jobs to the pipeline.
package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelcut/reelcut-server/internal/config"
)

// Job statuses. A job moves strictly forward through the working
// statuses and lands on done or error.
const (
	StatusQueued      = "queued"
	StatusIngesting   = "ingesting"
	StatusScoring     = "scoring"
	StatusBeatMapping = "beat_mapping"
	StatusAssembling  = "assembling"
	StatusRendering   = "rendering"
	StatusDone        = "done"
	StatusError       = "error"
)

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusDone || status == StatusError
}

// Media kinds.
const (
	KindImage = "image"
	KindVideo = "video"
	KindAudio = "audio"
)

// AcceptedVisualMIME is the set of upload types usable as clips.
var AcceptedVisualMIME = map[string]string{
	"image/jpeg":      KindImage,
	"image/jpg":       KindImage,
	"image/png":       KindImage,
	"image/webp":      KindImage,
	"video/mp4":       KindVideo,
	"video/quicktime": KindVideo,
	"video/webm":      KindVideo,
}

// AcceptedAudioMIME is the set of upload types usable as the music track.
var AcceptedAudioMIME = map[string]bool{
	"audio/mpeg":  true,
	"audio/mp4":   true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/ogg":   true,
	"audio/webm":  true,
}

// ValidQualities, ValidResolutions and ValidFormats bound the encode
// parameters a caller may request. Resolutions are portrait only.
var (
	ValidQualities = map[string]bool{"draft": true, "high": true, "ultra": true}

	ValidResolutions = map[string]bool{
		"720x1280":  true,
		"1080x1920": true,
		"1440x2560": true,
		"2160x3840": true,
	}

	ValidFormats = map[string]bool{"mp4": true, "webm": true, "mov": true}
)

const (
	MinFPS  = 24
	MaxFPS  = 60
	FPSStep = 6
)

// Params are the caller-supplied settings for one render job.
type Params struct {
	TargetDuration float64 `json:"target_duration"`
	Quality        string  `json:"quality"`
	Resolution     string  `json:"resolution"`
	FPS            int     `json:"fps"`
	Format         string  `json:"format"`
}

// DefaultParams returns the product defaults.
func DefaultParams() Params {
	return Params{
		TargetDuration: config.DefaultTargetDuration,
		Quality:        "high",
		Resolution:     "1080x1920",
		FPS:            30,
		Format:         "mp4",
	}
}

// Normalize fills zero-valued fields with defaults.
func (p *Params) Normalize() {
	d := DefaultParams()
	if p.TargetDuration == 0 {
		p.TargetDuration = d.TargetDuration
	}
	if p.Quality == "" {
		p.Quality = d.Quality
	}
	if p.Resolution == "" {
		p.Resolution = d.Resolution
	}
	if p.FPS == 0 {
		p.FPS = d.FPS
	}
	if p.Format == "" {
		p.Format = d.Format
	}
}

// Validate checks every field against the allowed sets and bounds.
func (p Params) Validate() error {
	if p.TargetDuration > config.AbsMaxTargetDuration {
		return fmt.Errorf("target_duration can never exceed %d seconds", config.AbsMaxTargetDuration)
	}
	if p.TargetDuration < config.MinTargetDuration || p.TargetDuration > config.MaxTargetDuration {
		return fmt.Errorf("target_duration must be between %d and %d seconds",
			config.MinTargetDuration, config.MaxTargetDuration)
	}
	if !ValidQualities[p.Quality] {
		return fmt.Errorf("unknown quality %q", p.Quality)
	}
	if !ValidResolutions[p.Resolution] {
		return fmt.Errorf("unsupported resolution %q", p.Resolution)
	}
	if p.FPS < MinFPS || p.FPS > MaxFPS || (p.FPS-MinFPS)%FPSStep != 0 {
		return fmt.Errorf("fps must be one of 24, 30, 36, 42, 48, 54, 60")
	}
	if !ValidFormats[p.Format] {
		return fmt.Errorf("unsupported format %q", p.Format)
	}
	return nil
}

// Dimensions parses the resolution string into width and height.
func (p Params) Dimensions() (width, height int) {
	parts := strings.SplitN(p.Resolution, "x", 2)
	if len(parts) != 2 {
		return 1080, 1920
	}
	fmt.Sscanf(parts[0], "%d", &width)
	fmt.Sscanf(parts[1], "%d", &height)
	return width, height
}

// RenderJob is the aggregate row for one reel production.
type RenderJob struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	Progress       int       `json:"progress"`
	Mood           string    `json:"mood,omitempty"`
	TargetDuration float64   `json:"target_duration"`
	Quality        string    `json:"quality"`
	Resolution     string    `json:"resolution"`
	FPS            int       `json:"fps"`
	Format         string    `json:"format"`
	TimelineJSON   string    `json:"-"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ArtifactPath   string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Params reconstructs the caller settings from the stored row.
func (j *RenderJob) Params() Params {
	return Params{
		TargetDuration: j.TargetDuration,
		Quality:        j.Quality,
		Resolution:     j.Resolution,
		FPS:            j.FPS,
		Format:         j.Format,
	}
}

// MediaFile is one staged upload belonging to a job.
type MediaFile struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Path      string    `json:"-"`
	Filename  string    `json:"filename"`
	MIMEType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Kind      string    `json:"kind"`
	IsAudio   bool      `json:"is_audio"`
	CreatedAt time.Time `json:"created_at"`
}

// LogEntry is one append-only job log line.
type LogEntry struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func NewID() string {
	return uuid.NewString()
}
