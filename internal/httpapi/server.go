// Package httpapi is the render job server: submit a conversation, poll or
// stream its progress, then download the video or image.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/skip2/go-qrcode"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/ivlev/chat2video/internal/config"
	"github.com/ivlev/chat2video/internal/engine"
	"github.com/ivlev/chat2video/internal/jobs"
	"github.com/ivlev/chat2video/internal/source"
)

const (
	maxBodyBytes = 32 << 20
	qrSize       = 256
	writeTimeout = 5 * time.Second
)

type Options struct {
	Addr string
	// PublicURL prefixes absolute links (QR codes). Empty derives it from
	// the request.
	PublicURL string
	Export    config.Config
	RateRPS   int
	RateBurst int
	// OriginPatterns are accepted for cross-origin WebSocket clients.
	OriginPatterns []string
	// TrustProxy keys rate limiting on X-Forwarded-For. Enable it only
	// behind a reverse proxy that overwrites the header.
	TrustProxy bool
}

type Server struct {
	httpServer *http.Server
	manager    *jobs.Manager
	metrics    *Metrics
	limiter    *ipRateLimiter
	opts       Options
}

// JobResponse is the body of /render and /status.
type JobResponse struct {
	JobID    string      `json:"job_id"`
	Status   jobs.Status `json:"status"`
	Progress float64     `json:"progress"`
	VideoURL string      `json:"video_url,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func New(manager *jobs.Manager, metrics *Metrics, opts Options) *Server {
	srv := &Server{
		manager: manager,
		metrics: metrics,
		limiter: newIPRateLimiter(opts.RateRPS, opts.RateBurst),
		opts:    opts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("POST /render", srv.instrument("/render", srv.handleRender))
	mux.HandleFunc("GET /status/{id}", srv.instrument("/status", srv.handleStatus))
	mux.HandleFunc("GET /download/{id}", srv.instrument("/download", srv.handleDownload))
	mux.HandleFunc("GET /jobs/{id}/qr", srv.instrument("/jobs/qr", srv.handleQR))
	mux.HandleFunc("GET /jobs/{id}/progress", srv.instrument("/jobs/progress", srv.handleProgress))
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(remoteIP(r, s.opts.TrustProxy)) {
		s.metrics.IncRateLimited()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	script, err := source.ParseJSON(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Файлы сервера клиентам недоступны
	if err := script.RejectPathAvatars(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := script.Snapshot("")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(snap.Entries) == 0 {
		writeError(w, http.StatusBadRequest, engine.ExportError(errors.New("conversation has no messages")))
		return
	}

	cfg := s.opts.Export
	cfg.Settings = script.ExportSettings()
	cfg.InputPath = "api"
	cfg.TimelineDump = ""

	job, err := s.manager.Submit(cfg.Settings.Type.String(), func(ctx context.Context, dir string, progress func(float64)) ([]string, error) {
		s.metrics.IncExportsRunning(1)
		defer s.metrics.IncExportsRunning(-1)

		cfg := cfg
		cfg.OutputVideo = filepath.Join(dir, "chat.mp4")
		p := engine.NewExportProject(&cfg, snap)
		p.OnProgress = progress
		return p.Execute(ctx)
	})
	if err != nil {
		log.Printf("[!] submit job: %v", err)
		writeError(w, http.StatusServiceUnavailable, "cannot accept jobs")
		return
	}
	writeJSON(w, http.StatusOK, s.response(job))
}

func (s *Server) response(job jobs.Job) JobResponse {
	resp := JobResponse{JobID: job.ID, Status: job.Status, Progress: job.Progress, Error: job.Error}
	if job.Status == jobs.StatusCompleted {
		resp.VideoURL = "/download/" + job.ID
	}
	return resp
}

// lookup writes 404/500 itself and reports whether the job was found.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	job, err := s.manager.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return jobs.Job{}, false
	}
	if err != nil {
		log.Printf("[!] get job: %v", err)
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return jobs.Job{}, false
	}
	return job, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.response(job))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if job.Status != jobs.StatusCompleted || len(job.Artifacts) == 0 {
		writeError(w, http.StatusConflict, "export not ready")
		return
	}

	path := job.Artifacts[0]
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusGone, "export expired")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stat failed")
		return
	}

	ext := filepath.Ext(path)
	contentType := "video/mp4"
	if ext == ".png" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="chat_%s%s"`, job.ID, ext))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (s *Server) baseURL(r *http.Request) string {
	if s.opts.PublicURL != "" {
		return s.opts.PublicURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	png, err := qrcode.Encode(s.baseURL(r)+"/download/"+job.ID, qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr encode failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

type progressMessage struct {
	JobID    string      `json:"job_id"`
	Status   jobs.Status `json:"status"`
	Progress float64     `json:"progress"`
	Error    string      `json:"error,omitempty"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookup(w, r); !ok {
		return
	}
	id := r.PathValue("id")

	// Subscribe before re-reading the job so no transition falls between.
	updates, unsubscribe := s.manager.Subscribe(id)
	defer unsubscribe()

	conn, err := websocket.Accept(baseWriter(w), r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	s.metrics.IncWSClients(1)
	defer s.metrics.IncWSClients(-1)

	ctx := conn.CloseRead(r.Context())
	send := func(job jobs.Job) error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, progressMessage{
			JobID:    job.ID,
			Status:   job.Status,
			Progress: job.Progress,
			Error:    job.Error,
		})
	}

	job, err := s.manager.Get(ctx, id)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "job lookup failed")
		return
	}
	if err := send(job); err != nil {
		return
	}
	if job.Status.Terminal() {
		conn.Close(websocket.StatusNormalClosure, string(job.Status))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
			// Updates queued before the initial read are already covered.
			if !u.UpdatedAt.After(job.UpdatedAt) {
				continue
			}
			job = u
			if err := send(u); err != nil {
				return
			}
			if u.Status.Terminal() {
				conn.Close(websocket.StatusNormalClosure, string(u.Status))
				return
			}
		}
	}
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
