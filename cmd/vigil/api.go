package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	goahttp "goa.design/goa/v3/http"

	"vigil/internal/auth"
	"vigil/internal/middleware"
	"vigil/internal/session"
	"vigil/internal/video"
)

// multipartSlack covers multipart headers and small form fields on top of
// the video size limit.
const multipartSlack = 1 << 20

type statsSource interface {
	Stats() session.Stats
}

type healthChecker interface {
	Name() string
	IsHealthy(ctx context.Context) bool
}

type pinger interface {
	Ping(ctx context.Context) error
}

type jobLister interface {
	ListJobs(ctx context.Context, status string, limit int) ([]video.JobRecord, error)
}

type videoProcessor interface {
	Process(ctx context.Context, up video.Upload) (*video.Response, error)
}

// api serves the REST surface. db and jobs are nil when history is off.
type api struct {
	sessions  statsSource
	analyzer  healthChecker
	db        pinger
	jobs      jobLister
	video     videoProcessor
	auth      *auth.Authenticator
	maxUpload int64
	started   time.Time
	logger    *slog.Logger
}

// mount registers every route on mux.
func (a *api) mount(mux goahttp.Muxer, metrics, signaling http.Handler) {
	protect := middleware.AuthMiddleware(a.auth, middleware.Options{})
	protectWS := middleware.AuthMiddleware(a.auth, middleware.Options{QueryParam: "token"})

	mux.Handle("GET", "/health", a.health)
	mux.Handle("GET", "/health/live", a.health)
	mux.Handle("GET", "/health/ready", a.ready)
	mux.Handle("POST", "/api/v1/auth/login", a.login)
	mux.Handle("GET", "/api/v1/connections", protect(http.HandlerFunc(a.connections)).ServeHTTP)
	mux.Handle("POST", "/api/v1/video/process", protect(http.HandlerFunc(a.processVideo)).ServeHTTP)
	mux.Handle("GET", "/api/v1/video/jobs", protect(http.HandlerFunc(a.listJobs)).ServeHTTP)
	mux.Handle("GET", "/metrics", metrics.ServeHTTP)
	mux.Handle("GET", "/ws/driver-monitoring", protectWS(signaling).ServeHTTP)
}

type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: time.Since(a.started).Seconds(),
	})
}

type readyResponse struct {
	Status   string `json:"status"`
	Analyzer struct {
		Name    string `json:"name"`
		Healthy bool   `json:"healthy"`
	} `json:"analyzer"`
	Database string `json:"database"`
}

func (a *api) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var resp readyResponse
	resp.Analyzer.Name = a.analyzer.Name()
	resp.Analyzer.Healthy = a.analyzer.IsHealthy(ctx)
	ok := resp.Analyzer.Healthy

	switch {
	case a.db == nil:
		resp.Database = "disabled"
	default:
		if err := a.db.Ping(ctx); err != nil {
			resp.Database = "unreachable"
			ok = false
		} else {
			resp.Database = "ok"
		}
	}

	status := http.StatusOK
	resp.Status = "ready"
	if !ok {
		status = http.StatusServiceUnavailable
		resp.Status = "not_ready"
	}
	writeJSON(w, r, status, resp)
}

type connectionsResponse struct {
	session.Stats
	Timestamp float64 `json:"timestamp"`
}

func (a *api) connections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, connectionsResponse{
		Stats:     a.sessions.Stats(),
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := goahttp.RequestDecoder(r).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid login request")
		return
	}
	token, exp, err := a.auth.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "failed to issue token")
	default:
		writeJSON(w, r, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp})
	}
}

func (a *api) processVideo(w http.ResponseWriter, r *http.Request) {
	targetFPS := video.DefaultTargetFPS
	if v := r.URL.Query().Get("target_fps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "target_fps must be an integer")
			return
		}
		targetFPS = n
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload+multipartSlack)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "expected multipart/form-data")
		return
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			writeError(w, r, http.StatusBadRequest, "missing file field")
			return
		}
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, r, http.StatusRequestEntityTooLarge, video.ErrTooLarge.Error())
				return
			}
			writeError(w, r, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		resp, err := a.video.Process(r.Context(), video.Upload{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Size:        -1,
			Body:        part,
			TargetFPS:   targetFPS,
		})
		part.Close()
		if err != nil {
			writeError(w, r, videoStatus(err), err.Error())
			return
		}
		writeJSON(w, r, http.StatusOK, resp)
		return
	}
}

// videoStatus maps batch pipeline errors to HTTP statuses.
func videoStatus(err error) int {
	switch {
	case errors.Is(err, video.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, video.ErrInvalidFormat), errors.Is(err, video.ErrDurationExceeded):
		return http.StatusBadRequest
	case errors.Is(err, video.ErrNoFramesProcessed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, video.ErrProcessingTimedOut), errors.Is(err, video.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type jobView struct {
	ID              string  `json:"id"`
	Filename        string  `json:"filename"`
	SizeBytes       int64   `json:"size_bytes"`
	TargetFPS       int     `json:"target_fps"`
	Status          string  `json:"status"`
	Error           string  `json:"error,omitempty"`
	TotalFrames     int     `json:"total_frames"`
	ProcessedFrames int     `json:"processed_frames"`
	StartedAt       string  `json:"started_at"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	views := []jobView{}
	if a.jobs == nil {
		writeJSON(w, r, http.StatusOK, views)
		return
	}

	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	jobs, err := a.jobs.ListJobs(r.Context(), q.Get("status"), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	for _, j := range jobs {
		views = append(views, jobView{
			ID:              j.ID,
			Filename:        j.Filename,
			SizeBytes:       j.SizeBytes,
			TargetFPS:       j.TargetFPS,
			Status:          j.Status,
			Error:           j.Error,
			TotalFrames:     j.TotalFrames,
			ProcessedFrames: j.ProcessedFrames,
			StartedAt:       j.StartedAt.UTC().Format(time.RFC3339),
			ElapsedSeconds:  j.Elapsed.Seconds(),
		})
	}
	writeJSON(w, r, http.StatusOK, views)
}
