package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelcut/reelcut-server/internal/clip"
	"github.com/reelcut/reelcut-server/internal/config"
	"github.com/reelcut/reelcut-server/internal/job"
	"github.com/reelcut/reelcut-server/internal/render"
	"github.com/reelcut/reelcut-server/internal/timeline"
)

// multipartMemory bounds how much of an upload is held in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// jobLocks serializes timeline edits per job so concurrent requests
// never interleave their load-edit-enqueue sequences.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the named job and returns the unlock func.
func (l *jobLocks) acquire(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()
	locks := newJobLocks()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", createJobHandler(cfg))
		r.Get("/", listJobsHandler(cfg))
		r.Get("/{id}", getJobHandler(cfg))
		r.Delete("/{id}", deleteJobHandler(cfg))
		r.Get("/{id}/logs", jobLogsHandler(cfg))
		r.Get("/{id}/artifact", artifactHandler(cfg))
		r.Get("/{id}/timeline", getTimelineHandler(cfg))
		r.Post("/{id}/cancel", cancelJobHandler(cfg))
		r.Post("/{id}/regenerate", regenerateHandler(cfg))
		r.Post("/{id}/timeline/reorder", reorderHandler(cfg, locks))
		r.Post("/{id}/timeline/trim", trimHandler(cfg, locks))
		r.Post("/{id}/timeline/transition", transitionHandler(cfg, locks))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		state := "idle"
		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}

		resp := StatusResponse{State: state}
		for _, j := range jobs {
			switch {
			case j.Status == job.StatusQueued:
				resp.JobsQueued++
			case !job.IsTerminal(j.Status):
				resp.JobsRunning++
				if resp.ActiveJob == nil {
					jr := JobToResponse(j)
					resp.ActiveJob = &jr
				}
				if state == "idle" {
					resp.State = "rendering"
				}
			case j.Status == job.StatusError && resp.LastError == "":
				resp.LastError = j.ErrorMessage
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func createJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart form", "BAD_REQUEST")
			return
		}
		defer r.MultipartForm.RemoveAll()

		params, err := paramsFromForm(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		headers := r.MultipartForm.File["media"]
		if len(headers) == 0 {
			WriteError(w, http.StatusBadRequest, "at least one media file is required", "BAD_REQUEST")
			return
		}

		uploads := make([]job.Upload, 0, len(headers))
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				WriteError(w, http.StatusBadRequest, "unreadable upload: "+h.Filename, "BAD_REQUEST")
				return
			}
			defer f.Close()
			uploads = append(uploads, job.Upload{
				Filename: h.Filename,
				MIMEType: h.Header.Get("Content-Type"),
				Reader:   f,
			})
		}

		j, err := cfg.Service.CreateJob(r.Context(), params, uploads)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusAccepted, JobToResponse(j))
	}
}

func paramsFromForm(r *http.Request) (job.Params, error) {
	var p job.Params
	if v := r.FormValue("target_duration"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, errors.New("invalid target_duration")
		}
		p.TargetDuration = d
	}
	p.Quality = r.FormValue("quality")
	p.Resolution = r.FormValue("resolution")
	p.Format = r.FormValue("format")
	if v := r.FormValue("fps"); v != "" {
		fps, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.New("invalid fps")
		}
		p.FPS = fps
	}
	return p, nil
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.Repository.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// loadJob fetches the job for {id}, writing the error response itself
// when the job cannot be served.
func loadJob(cfg ServerConfig, w http.ResponseWriter, r *http.Request) *job.RenderJob {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
		return nil
	}

	j, err := cfg.Repository.GetJob(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil
	}
	if j == nil {
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
		return nil
	}
	return j
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j := loadJob(cfg, w, r)
		if j == nil {
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(j))
	}
}

func deleteJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j := loadJob(cfg, w, r)
		if j == nil {
			return
		}
		if !job.IsTerminal(j.Status) && j.Status != job.StatusQueued {
			WriteError(w, http.StatusConflict, "job is still running", "CONFLICT")
			return
		}

		if err := cfg.Service.DeleteJob(r.Context(), j.ID); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func jobLogsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j := loadJob(cfg, w, r)
		if j == nil {
			return
		}

		logs, err := cfg.Repository.ListLogs(r.Context(), j.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := LogsResponse{Logs: make([]LogEntryResponse, len(logs))}
		for i, l := range logs {
			resp.Logs[i] = LogToResponse(l)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func artifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j := loadJob(cfg, w, r)
		if j == nil {
			return
		}
		if j.Status != job.StatusDone || j.ArtifactPath == "" {
			WriteError(w, http.StatusNotFound, "no artifact available", "NOT_FOUND")
			return
		}
		http.ServeFile(w, r, j.ArtifactPath)
	}
}

func cancelJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j := loadJob(cfg, w, r)
		if j == nil {
			return
		}

		if err := cfg.Runner.Cancel(r.Context(), j.ID); err != nil {
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
	}
}

func regenerateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j := loadJob(cfg, w, r)
		if j == nil {
			return
		}

		clone, err := cfg.Service.CloneJob(r.Context(), j.ID, j.TimelineJSON)
		if err != nil {
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
			return
		}
		WriteJSON(w, http.StatusAccepted, JobToResponse(clone))
	}
}

func getTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j := loadJob(cfg, w, r)
		if j == nil {
			return
		}
		comp := loadComposition(w, j)
		if comp == nil {
			return
		}
		WriteJSON(w, http.StatusOK, CompositionToResponse(comp))
	}
}

// loadComposition decodes the stored timeline, writing the error
// response when the job has none yet.
func loadComposition(w http.ResponseWriter, j *job.RenderJob) *render.Composition {
	if j.TimelineJSON == "" {
		WriteError(w, http.StatusConflict, "job has no timeline yet", "NO_TIMELINE")
		return nil
	}
	comp, err := render.DecodeComposition(j.TimelineJSON)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil
	}
	return comp
}

// editSetup validates that the job can accept timeline edits and
// returns the composition plus an editor over it.
func editSetup(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*job.RenderJob, *render.Composition, *timeline.Editor) {
	j := loadJob(cfg, w, r)
	if j == nil {
		return nil, nil, nil
	}
	if !job.IsTerminal(j.Status) {
		WriteError(w, http.StatusConflict, "job is still running", "CONFLICT")
		return nil, nil, nil
	}
	comp := loadComposition(w, j)
	if comp == nil {
		return nil, nil, nil
	}
	return j, comp, timeline.NewEditor(&comp.Timeline, comp.Clips)
}

// saveEdit enqueues a fresh job carrying the edited composition. The
// source job stays as it finished; only its clone re-renders.
func saveEdit(cfg ServerConfig, w http.ResponseWriter, r *http.Request, j *job.RenderJob, comp *render.Composition, ed *timeline.Editor) {
	comp.Timeline = ed.Snapshot()

	encoded, err := comp.Encode()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}
	clone, err := cfg.Service.CloneJob(r.Context(), j.ID, encoded)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return
	}

	resp := CompositionToResponse(comp)
	jr := JobToResponse(clone)
	resp.Job = &jr
	WriteJSON(w, http.StatusOK, resp)
}

func editErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, timeline.ErrIndexOutOfRange):
		return http.StatusBadRequest, "INDEX_OUT_OF_RANGE"
	case errors.Is(err, timeline.ErrInvalidTrim):
		return http.StatusBadRequest, "INVALID_TRIM"
	case errors.Is(err, timeline.ErrUnknownClip):
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return http.StatusBadRequest, "BAD_REQUEST"
	}
}

func reorderHandler(cfg ServerConfig, locks *jobLocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer locks.acquire(chi.URLParam(r, "id"))()

		j, comp, ed := editSetup(cfg, w, r)
		if ed == nil {
			return
		}

		var req ReorderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := ed.Reorder(req.FromIndex, req.ToIndex); err != nil {
			status, code := editErrorStatus(err)
			WriteError(w, status, err.Error(), code)
			return
		}
		saveEdit(cfg, w, r, j, comp, ed)
	}
}

func trimHandler(cfg ServerConfig, locks *jobLocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer locks.acquire(chi.URLParam(r, "id"))()

		j, comp, ed := editSetup(cfg, w, r)
		if ed == nil {
			return
		}

		var req TrimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if err := ed.Trim(req.ClipID, req.TrimStart, req.TrimEnd); err != nil {
			status, code := editErrorStatus(err)
			WriteError(w, status, err.Error(), code)
			return
		}
		saveEdit(cfg, w, r, j, comp, ed)
	}
}

func transitionHandler(cfg ServerConfig, locks *jobLocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer locks.acquire(chi.URLParam(r, "id"))()

		j, comp, ed := editSetup(cfg, w, r)
		if ed == nil {
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		t := clip.Transition(req.Transition)
		if !t.Valid() {
			WriteError(w, http.StatusBadRequest, "unknown transition "+req.Transition, "BAD_REQUEST")
			return
		}

		changed, err := ed.SetTransition(req.ClipID, t)
		if err != nil {
			status, code := editErrorStatus(err)
			WriteError(w, status, err.Error(), code)
			return
		}
		if !changed {
			// An identical transition is a no-op; nothing is persisted
			// and no clone is enqueued.
			WriteJSON(w, http.StatusOK, CompositionToResponse(comp))
			return
		}
		saveEdit(cfg, w, r, j, comp, ed)
	}
}
