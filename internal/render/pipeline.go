// Package render drives one job through the staged production pipeline:
// ingest, score, beat-map, assemble, render. Stage transitions, progress
// checkpoints and log lines are all persisted through the job repository
// so a polling client sees monotonic forward movement.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/reelcut/reelcut-server/internal/beat"
	"github.com/reelcut/reelcut-server/internal/clip"
	"github.com/reelcut/reelcut-server/internal/job"
	"github.com/reelcut/reelcut-server/internal/logging"
	"github.com/reelcut/reelcut-server/internal/timeline"
	"github.com/reelcut/reelcut-server/internal/transcoder"
)

// AudioMixVolume is the fixed relative volume of the music track.
const AudioMixVolume = 0.5

// Progress checkpoints, emitted on entry to each stage so callers see
// movement before the long work starts.
const (
	progressQueued      = 5
	progressIngesting   = 20
	progressScoring     = 45
	progressBeatMapping = 60
	progressAssembling  = 80
	progressRendering   = 95
	progressDone        = 100
)

// ErrInsufficientMaterial means no uploaded file survived ingest
// validation.
var ErrInsufficientMaterial = errors.New("insufficient material: no usable media files")

// Pipeline implements job.Processor.
type Pipeline struct {
	repo         job.Repository
	trans        transcoder.Transcoder
	scorer       *clip.Scorer
	artifactsDir string
	logger       *slog.Logger
}

func NewPipeline(repo job.Repository, trans transcoder.Transcoder, artifactsDir string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		repo:         repo,
		trans:        trans,
		scorer:       clip.NewScorer(trans, logger),
		artifactsDir: artifactsDir,
		logger:       logger,
	}
}

// Process runs one job to a terminal state. The returned error mirrors
// what was written to the job row; callers only need it for logging.
func (p *Pipeline) Process(ctx context.Context, j *job.RenderJob) error {
	logger := logging.WithJobID(p.logger, j.ID)

	err := p.run(ctx, j, logger)
	if err != nil {
		msg := err.Error()
		if ctx.Err() != nil {
			msg = "cancelled"
		}
		// Terminal writes use a fresh context: the job context may
		// already be cancelled.
		bg := context.Background()
		p.repo.UpdateJobStatus(bg, j.ID, job.StatusError, msg)
		p.repo.AppendLog(bg, j.ID, "error", msg)
		logger.Error("job failed", "error", msg)
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, j *job.RenderJob, logger *slog.Logger) error {
	p.repo.UpdateJobProgress(ctx, j.ID, progressQueued)

	// An existing timeline means this is a re-render of an edited
	// arrangement: skip straight to the transcoder.
	if j.TimelineJSON != "" {
		comp, err := DecodeComposition(j.TimelineJSON)
		if err != nil {
			return err
		}
		return p.render(ctx, j, comp, logger)
	}

	clips, audioPath, err := p.ingest(ctx, j, logger)
	if err != nil {
		return err
	}

	if err := p.score(ctx, j, clips, logger); err != nil {
		return err
	}

	analysis, err := p.beatMap(ctx, j, audioPath, logger)
	if err != nil {
		return err
	}

	comp, err := p.assemble(ctx, j, clips, audioPath, analysis, logger)
	if err != nil {
		return err
	}

	return p.render(ctx, j, comp, logger)
}

// enterStage records the transition and checkpoint before the stage's
// work begins.
func (p *Pipeline) enterStage(ctx context.Context, jobID, status string, progress int, logger *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.repo.UpdateJobStatus(ctx, jobID, status, ""); err != nil {
		return err
	}
	p.repo.UpdateJobProgress(ctx, jobID, progress)
	p.repo.AppendLog(ctx, jobID, "info", status+" started")
	logging.WithStage(logger, status).Debug("stage started", "progress", progress)
	return nil
}

func (p *Pipeline) warn(ctx context.Context, jobID, message string, logger *slog.Logger) {
	p.repo.AppendLog(ctx, jobID, "warn", message)
	logger.Warn(message)
}

// ingest validates the staged uploads and turns them into candidate
// clips. Unusable files are skipped with a warning; only an empty result
// is fatal.
func (p *Pipeline) ingest(ctx context.Context, j *job.RenderJob, logger *slog.Logger) ([]*clip.Clip, string, error) {
	if err := p.enterStage(ctx, j.ID, job.StatusIngesting, progressIngesting, logger); err != nil {
		return nil, "", err
	}

	files, err := p.repo.ListMediaFiles(ctx, j.ID)
	if err != nil {
		return nil, "", err
	}

	var clips []*clip.Clip
	var audioPath string

	for _, f := range files {
		if f.IsAudio {
			if audioPath == "" {
				audioPath = f.Path
			} else {
				p.warn(ctx, j.ID, fmt.Sprintf("extra audio track %s ignored", f.Filename), logger)
			}
			continue
		}
		if f.Kind == "" {
			p.warn(ctx, j.ID, fmt.Sprintf("skipping %s: unsupported type %s", f.Filename, f.MIMEType), logger)
			continue
		}

		switch f.Kind {
		case job.KindImage:
			clips = append(clips, clip.New(f.Path, clip.KindImage, clip.ImageDuration))
		case job.KindVideo:
			probe, err := p.trans.Probe(ctx, f.Path)
			if err != nil {
				p.warn(ctx, j.ID, fmt.Sprintf("skipping %s: probe failed: %v", f.Filename, err), logger)
				continue
			}
			if probe.Duration <= 0 {
				p.warn(ctx, j.ID, fmt.Sprintf("skipping %s: no playable duration", f.Filename), logger)
				continue
			}
			clips = append(clips, clip.New(f.Path, clip.KindVideo, probe.Duration))
		}
	}

	if len(clips) == 0 {
		return nil, "", ErrInsufficientMaterial
	}

	p.repo.AppendLog(ctx, j.ID, "info", fmt.Sprintf("ingested %d clips", len(clips)))
	return clips, audioPath, nil
}

// score runs the quality scorer over all clips. A clip whose frame
// cannot be analyzed keeps the neutral score and stays in the pool.
func (p *Pipeline) score(ctx context.Context, j *job.RenderJob, clips []*clip.Clip, logger *slog.Logger) error {
	if err := p.enterStage(ctx, j.ID, job.StatusScoring, progressScoring, logger); err != nil {
		return err
	}

	results := p.scorer.ScoreAll(ctx, clips)
	for _, r := range results {
		if r.Err != nil {
			r.Clip.Score = clip.NeutralScore
			p.warn(ctx, j.ID, fmt.Sprintf("scoring failed for %s, using neutral score: %v",
				filepath.Base(r.Clip.SourcePath), r.Err), logger)
		}
	}
	return ctx.Err()
}

// beatMap extracts and analyzes the music track. Any failure here
// disables beat alignment rather than failing the job.
func (p *Pipeline) beatMap(ctx context.Context, j *job.RenderJob, audioPath string, logger *slog.Logger) (*beat.Analysis, error) {
	if err := p.enterStage(ctx, j.ID, job.StatusBeatMapping, progressBeatMapping, logger); err != nil {
		return nil, err
	}

	if audioPath == "" {
		p.repo.AppendLog(ctx, j.ID, "info", "no audio track, using even distribution")
		return nil, nil
	}

	wavDir, err := os.MkdirTemp("", "reelcut_audio_")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(wavDir)

	wavPath := filepath.Join(wavDir, "track.wav")
	if err := p.trans.ExtractAudio(ctx, audioPath, wavPath); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.warn(ctx, j.ID, fmt.Sprintf("audio extraction failed, falling back to even distribution: %v", err), logger)
		return nil, nil
	}

	track, err := beat.DecodeWAVFile(wavPath)
	if err != nil {
		p.warn(ctx, j.ID, fmt.Sprintf("audio decode failed, falling back to even distribution: %v", err), logger)
		return nil, nil
	}

	analysis := beat.Detect(track)
	p.repo.UpdateJobMood(ctx, j.ID, analysis.Mood)
	p.repo.AppendLog(ctx, j.ID, "info",
		fmt.Sprintf("detected %d beats, tempo %d bpm, mood %s", len(analysis.Beats), analysis.Tempo, analysis.Mood))
	return &analysis, nil
}

// assemble selects the best clips and builds the timeline, persisting
// the composition for later edits.
func (p *Pipeline) assemble(ctx context.Context, j *job.RenderJob, clips []*clip.Clip, audioPath string, analysis *beat.Analysis, logger *slog.Logger) (*Composition, error) {
	if err := p.enterStage(ctx, j.ID, job.StatusAssembling, progressAssembling, logger); err != nil {
		return nil, err
	}

	selected := clip.SelectBest(clips, j.TargetDuration)
	if len(selected) == 0 {
		return nil, ErrInsufficientMaterial
	}

	opts := timeline.BuildOptions{}
	if analysis != nil {
		opts.Beats = analysis.Beats
	}

	tl, err := timeline.Build(selected, j.TargetDuration, opts)
	if err != nil {
		return nil, err
	}

	comp := &Composition{
		Timeline:  *tl,
		Clips:     selected,
		AudioPath: audioPath,
	}
	if analysis != nil {
		comp.Beats = analysis.Beats
		comp.Tempo = analysis.Tempo
		comp.Waveform = analysis.Waveform
		comp.Mood = analysis.Mood
	}

	encoded, err := comp.Encode()
	if err != nil {
		return nil, err
	}
	if err := p.repo.UpdateJobTimeline(ctx, j.ID, encoded); err != nil {
		return nil, err
	}

	p.repo.AppendLog(ctx, j.ID, "info",
		fmt.Sprintf("assembled timeline with %d of %d clips", len(selected), len(clips)))
	return comp, nil
}

// render invokes the transcoder. Transcoder failures are fatal with the
// engine's message preserved.
func (p *Pipeline) render(ctx context.Context, j *job.RenderJob, comp *Composition, logger *slog.Logger) error {
	if err := p.enterStage(ctx, j.ID, job.StatusRendering, progressRendering, logger); err != nil {
		return err
	}

	spec := transcoder.RenderSpec{
		AudioPath:   comp.AudioPath,
		AudioVolume: AudioMixVolume,
	}
	for _, entry := range comp.Timeline.Entries {
		c := comp.ClipByID(entry.ClipID)
		if c == nil {
			return fmt.Errorf("timeline references unknown clip %s", entry.ClipID)
		}
		spec.Entries = append(spec.Entries, transcoder.RenderEntry{
			SourcePath:     c.SourcePath,
			Kind:           c.Kind,
			TrimStart:      c.TrimStart,
			TrimEnd:        c.TrimEnd,
			NativeDuration: c.NativeDuration,
			SlotDuration:   entry.Duration,
			Filters:        c.Filters,
			Transition:     c.Transition,
		})
	}

	params := j.Params()
	width, height := params.Dimensions()
	tParams := transcoder.Params{
		Quality: params.Quality,
		Width:   width,
		Height:  height,
		FPS:     params.FPS,
		Format:  params.Format,
	}

	workDir, err := os.MkdirTemp("", "reelcut_render_")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	if err := os.MkdirAll(p.artifactsDir, 0o755); err != nil {
		return err
	}
	artifactPath := filepath.Join(p.artifactsDir, j.ID+"."+params.Format)

	if err := p.trans.Render(ctx, spec, tParams, workDir, artifactPath); err != nil {
		return err
	}

	if err := p.repo.UpdateJobArtifact(ctx, j.ID, artifactPath); err != nil {
		return err
	}
	if err := p.repo.UpdateJobStatus(ctx, j.ID, job.StatusDone, ""); err != nil {
		return err
	}
	p.repo.UpdateJobProgress(ctx, j.ID, progressDone)
	p.repo.AppendLog(ctx, j.ID, "success", "render complete")
	logger.Info("job done", "artifact", logging.SanitizePath(artifactPath))
	return nil
}
