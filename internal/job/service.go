package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// errFileTooLarge marks a staging failure that skips the file rather
// than the whole batch.
var errFileTooLarge = errors.New("file exceeds the size limit")

// Upload is one file received from the caller, not yet staged to disk.
type Upload struct {
	Filename string
	MIMEType string
	Reader   io.Reader
}

// Service stages uploads and manages job rows. It does not run jobs;
// that is the Runner's business.
type Service struct {
	repo         Repository
	mediaDir     string
	maxFileBytes int64
	logger       *slog.Logger
}

func NewService(repo Repository, mediaDir string, maxFileBytes int64, logger *slog.Logger) *Service {
	return &Service{
		repo:         repo,
		mediaDir:     mediaDir,
		maxFileBytes: maxFileBytes,
		logger:       logger,
	}
}

// CreateJob stages the uploads under the job's media directory and
// enqueues the job. Oversized files are skipped with a warning in the
// job log; content validation (type, decodability) is the pipeline's
// ingest stage. Only a batch with no stageable file fails creation.
func (s *Service) CreateJob(ctx context.Context, params Params, uploads []Upload) (*RenderJob, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("at least one media file is required")
	}

	now := time.Now().UTC()
	j := &RenderJob{
		ID:             NewID(),
		Status:         StatusQueued,
		TargetDuration: params.TargetDuration,
		Quality:        params.Quality,
		Resolution:     params.Resolution,
		FPS:            params.FPS,
		Format:         params.Format,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	jobDir := filepath.Join(s.mediaDir, j.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}

	if err := s.repo.CreateJob(ctx, j); err != nil {
		os.RemoveAll(jobDir)
		return nil, err
	}

	staged := 0
	for i, up := range uploads {
		f, err := s.stageUpload(ctx, j.ID, jobDir, i, up)
		if errors.Is(err, errFileTooLarge) {
			msg := fmt.Sprintf("skipping %s: exceeds the %d MiB limit",
				sanitizeFilename(up.Filename), s.maxFileBytes/(1024*1024))
			s.repo.AppendLog(ctx, j.ID, "warn", msg)
			if s.logger != nil {
				s.logger.Warn(msg, "job_id", j.ID)
			}
			continue
		}
		if err != nil {
			s.repo.DeleteJob(ctx, j.ID)
			os.RemoveAll(jobDir)
			return nil, err
		}
		if err := s.repo.CreateMediaFile(ctx, f); err != nil {
			s.repo.DeleteJob(ctx, j.ID)
			os.RemoveAll(jobDir)
			return nil, err
		}
		staged++
	}

	if staged == 0 {
		s.repo.DeleteJob(ctx, j.ID)
		os.RemoveAll(jobDir)
		return nil, fmt.Errorf("no file within the %d MiB limit", s.maxFileBytes/(1024*1024))
	}

	if s.logger != nil {
		s.logger.Info("job created", "job_id", j.ID, "files", staged,
			"target_duration", params.TargetDuration)
	}
	return j, nil
}

// stageUpload copies one upload to disk, refusing anything past the
// per-file byte limit mid-copy.
func (s *Service) stageUpload(ctx context.Context, jobID, jobDir string, index int, up Upload) (*MediaFile, error) {
	name := sanitizeFilename(up.Filename)
	destPath := filepath.Join(jobDir, fmt.Sprintf("%03d_%s", index, name))

	dest, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", name, err)
	}
	defer dest.Close()

	// Copy one byte past the limit so oversized files are detected
	// without reading them whole.
	n, err := io.Copy(dest, io.LimitReader(up.Reader, s.maxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", name, err)
	}
	if n > s.maxFileBytes {
		dest.Close()
		os.Remove(destPath)
		return nil, fmt.Errorf("%s: %w", name, errFileTooLarge)
	}

	mime := strings.ToLower(strings.TrimSpace(up.MIMEType))
	kind := KindForMIME(mime)

	return &MediaFile{
		ID:        NewID(),
		JobID:     jobID,
		Path:      destPath,
		Filename:  name,
		MIMEType:  mime,
		Size:      n,
		Kind:      kind,
		IsAudio:   kind == KindAudio,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// KindForMIME maps a MIME type to a media kind, or "" if unsupported.
func KindForMIME(mime string) string {
	if k, ok := AcceptedVisualMIME[mime]; ok {
		return k
	}
	if AcceptedAudioMIME[mime] {
		return KindAudio
	}
	return ""
}

func (s *Service) GetJob(ctx context.Context, id string) (*RenderJob, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*RenderJob, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) GetMediaFiles(ctx context.Context, jobID string) ([]*MediaFile, error) {
	return s.repo.ListMediaFiles(ctx, jobID)
}

func (s *Service) GetLogs(ctx context.Context, jobID string) ([]*LogEntry, error) {
	return s.repo.ListLogs(ctx, jobID)
}

// DeleteJob removes the row (media file and log rows cascade) and the
// staged files and artifact on disk.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("job not found")
	}

	if err := s.repo.DeleteJob(ctx, id); err != nil {
		return err
	}

	os.RemoveAll(filepath.Join(s.mediaDir, id))
	if j.ArtifactPath != "" {
		os.Remove(j.ArtifactPath)
	}

	if s.logger != nil {
		s.logger.Info("job deleted", "job_id", id)
	}
	return nil
}

// CloneJob enqueues a new job derived from a terminal one. The source
// row is never touched; the clone carries the same params, references
// the same staged media, and starts from timelineJSON (empty = rebuild
// from the media, non-empty = straight to re-render).
func (s *Service) CloneJob(ctx context.Context, sourceID, timelineJSON string) (*RenderJob, error) {
	src, err := s.repo.GetJob(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("job not found")
	}
	if !IsTerminal(src.Status) {
		return nil, fmt.Errorf("job is still %s", src.Status)
	}

	files, err := s.repo.ListMediaFiles(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	clone := &RenderJob{
		ID:             NewID(),
		Status:         StatusQueued,
		TargetDuration: src.TargetDuration,
		Quality:        src.Quality,
		Resolution:     src.Resolution,
		FPS:            src.FPS,
		Format:         src.Format,
		TimelineJSON:   timelineJSON,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateJob(ctx, clone); err != nil {
		return nil, err
	}

	for _, f := range files {
		copied := *f
		copied.ID = NewID()
		copied.JobID = clone.ID
		if err := s.repo.CreateMediaFile(ctx, &copied); err != nil {
			s.repo.DeleteJob(ctx, clone.ID)
			return nil, err
		}
	}

	s.repo.AppendLog(ctx, clone.ID, "info", "derived from job "+sourceID)
	if s.logger != nil {
		s.logger.Info("job cloned", "job_id", clone.ID, "source_job_id", sourceID)
	}
	return clone, nil
}

// sanitizeFilename keeps the base name and replaces path-hostile runes.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "upload"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
