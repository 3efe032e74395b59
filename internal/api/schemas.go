package api

import (
	"path/filepath"
	"time"

	"github.com/reelcut/reelcut-server/internal/clip"
	"github.com/reelcut/reelcut-server/internal/job"
	"github.com/reelcut/reelcut-server/internal/render"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string       `json:"state"`
	LastError   string       `json:"last_error,omitempty"`
	JobsQueued  int          `json:"jobs_queued"`
	JobsRunning int          `json:"jobs_running"`
	ActiveJob   *JobResponse `json:"active_job,omitempty"`
}

type JobResponse struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	Progress       int     `json:"progress"`
	Mood           string  `json:"mood,omitempty"`
	TargetDuration float64 `json:"target_duration"`
	Quality        string  `json:"quality"`
	Resolution     string  `json:"resolution"`
	FPS            int     `json:"fps"`
	Format         string  `json:"format"`
	Error          string  `json:"error,omitempty"`
	HasArtifact    bool    `json:"has_artifact"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type LogEntryResponse struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type LogsResponse struct {
	Logs []LogEntryResponse `json:"logs"`
}

// TimelineResponse exposes the stored composition. Server-local
// directories are stripped from source paths first. After an edit, Job
// carries the freshly enqueued clone that will render the change.
type TimelineResponse struct {
	Timeline render.Composition `json:"timeline"`
	Job      *JobResponse       `json:"job,omitempty"`
}

type ReorderRequest struct {
	FromIndex int `json:"from_index"`
	ToIndex   int `json:"to_index"`
}

type TrimRequest struct {
	ClipID    string  `json:"clip_id"`
	TrimStart float64 `json:"trim_start"`
	TrimEnd   float64 `json:"trim_end"`
}

type TransitionRequest struct {
	ClipID     string `json:"clip_id"`
	Transition string `json:"transition"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *job.RenderJob) JobResponse {
	return JobResponse{
		ID:             j.ID,
		Status:         j.Status,
		Progress:       j.Progress,
		Mood:           j.Mood,
		TargetDuration: j.TargetDuration,
		Quality:        j.Quality,
		Resolution:     j.Resolution,
		FPS:            j.FPS,
		Format:         j.Format,
		Error:          j.ErrorMessage,
		HasArtifact:    j.ArtifactPath != "",
		CreatedAt:      j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      j.UpdatedAt.Format(time.RFC3339),
	}
}

// CompositionToResponse deep-copies the composition with file paths
// reduced to base names.
func CompositionToResponse(comp *render.Composition) TimelineResponse {
	out := *comp
	out.Clips = make([]*clip.Clip, len(comp.Clips))
	for i, c := range comp.Clips {
		cc := *c
		cc.SourcePath = filepath.Base(cc.SourcePath)
		out.Clips[i] = &cc
	}
	if out.AudioPath != "" {
		out.AudioPath = filepath.Base(out.AudioPath)
	}
	return TimelineResponse{Timeline: out}
}

func LogToResponse(l *job.LogEntry) LogEntryResponse {
	return LogEntryResponse{
		Level:     l.Level,
		Message:   l.Message,
		CreatedAt: l.CreatedAt.Format(time.RFC3339),
	}
}
