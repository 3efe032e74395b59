package job

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateJob(ctx context.Context, j *RenderJob) error
	GetJob(ctx context.Context, id string) (*RenderJob, error)
	ListJobs(ctx context.Context, limit int) ([]*RenderJob, error)
	NextQueuedJob(ctx context.Context) (*RenderJob, error)
	DeleteJob(ctx context.Context, id string) error
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	UpdateJobMood(ctx context.Context, id, mood string) error
	UpdateJobTimeline(ctx context.Context, id, timelineJSON string) error
	UpdateJobArtifact(ctx context.Context, id, artifactPath string) error

	CreateMediaFile(ctx context.Context, f *MediaFile) error
	ListMediaFiles(ctx context.Context, jobID string) ([]*MediaFile, error)

	AppendLog(ctx context.Context, jobID, level, message string) error
	ListLogs(ctx context.Context, jobID string) ([]*LogEntry, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, status, progress, mood, target_duration, quality, resolution, fps, format,
	timeline_json, error_message, artifact_path, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *RenderJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Status, j.Progress, j.Mood, j.TargetDuration, j.Quality, j.Resolution, j.FPS, j.Format,
		j.TimelineJSON, j.ErrorMessage, j.ArtifactPath,
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*RenderJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*RenderJob, error) {
	var j RenderJob
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Status, &j.Progress, &j.Mood, &j.TargetDuration,
		&j.Quality, &j.Resolution, &j.FPS, &j.Format,
		&j.TimelineJSON, &j.ErrorMessage, &j.ArtifactPath, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*RenderJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// NextQueuedJob returns the oldest queued job, or nil when the queue is
// empty.
func (r *SQLiteRepository) NextQueuedJob(ctx context.Context) (*RenderJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = 'queued' ORDER BY created_at ASC LIMIT 1
	`)
	return scanJob(row)
}

func scanJobs(rows *sql.Rows) ([]*RenderJob, error) {
	var jobs []*RenderJob
	for rows.Next() {
		var j RenderJob
		var createdAt, updatedAt string

		if err := rows.Scan(&j.ID, &j.Status, &j.Progress, &j.Mood, &j.TargetDuration,
			&j.Quality, &j.Resolution, &j.FPS, &j.Format,
			&j.TimelineJSON, &j.ErrorMessage, &j.ArtifactPath, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) DeleteJob(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?
	`, status, errorMsg, nowRFC3339(), id)
	return err
}

// UpdateJobProgress is monotonic: a stale writer can never move the
// percentage backwards.
func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = max(progress, ?), updated_at = ? WHERE id = ?
	`, progress, nowRFC3339(), id)
	return err
}

func (r *SQLiteRepository) UpdateJobMood(ctx context.Context, id, mood string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET mood = ?, updated_at = ? WHERE id = ?
	`, mood, nowRFC3339(), id)
	return err
}

func (r *SQLiteRepository) UpdateJobTimeline(ctx context.Context, id, timelineJSON string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET timeline_json = ?, updated_at = ? WHERE id = ?
	`, timelineJSON, nowRFC3339(), id)
	return err
}

func (r *SQLiteRepository) UpdateJobArtifact(ctx context.Context, id, artifactPath string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET artifact_path = ?, updated_at = ? WHERE id = ?
	`, artifactPath, nowRFC3339(), id)
	return err
}

func (r *SQLiteRepository) CreateMediaFile(ctx context.Context, f *MediaFile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO media_files (id, job_id, path, filename, mime_type, size, kind, is_audio, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.JobID, f.Path, f.Filename, f.MIMEType, f.Size, f.Kind, boolToInt(f.IsAudio),
		f.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) ListMediaFiles(ctx context.Context, jobID string) ([]*MediaFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, path, filename, mime_type, size, kind, is_audio, created_at
		FROM media_files WHERE job_id = ? ORDER BY created_at ASC, filename ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*MediaFile
	for rows.Next() {
		var f MediaFile
		var isAudio int
		var createdAt string
		if err := rows.Scan(&f.ID, &f.JobID, &f.Path, &f.Filename, &f.MIMEType, &f.Size, &f.Kind, &isAudio, &createdAt); err != nil {
			return nil, err
		}
		f.IsAudio = isAudio == 1
		f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		files = append(files, &f)
	}
	return files, rows.Err()
}

func (r *SQLiteRepository) AppendLog(ctx context.Context, jobID, level, message string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, level, message, created_at)
		VALUES (?, ?, ?, ?)
	`, jobID, level, message, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) ListLogs(ctx context.Context, jobID string) ([]*LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, level, message, created_at
		FROM job_logs WHERE job_id = ? ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*LogEntry
	for rows.Next() {
		var l LogEntry
		var createdAt string
		if err := rows.Scan(&l.ID, &l.JobID, &l.Level, &l.Message, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// nowRFC3339 renders the current instant the way scanJob parses it.
// SQLite's datetime() emits a space-separated form RFC3339 rejects, so
// updated_at is always written from Go.
func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
