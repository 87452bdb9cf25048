// Package fakebackend serves a scripted research backend: job submission,
// status polling, health and the websocket push channel. It replays a
// Scenario for every submitted job.
package fakebackend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kalambet/intelwatch/internal/backend"
)

const (
	writeWait       = 5 * time.Second
	subscriberQueue = 256
	maxBodySize     = 1 << 20

	defaultStartAfter = time.Second
)

// Options configures a Server.
type Options struct {
	// Token enables bearer auth on the research routes.
	Token    string
	Scenario *Scenario
	// Speed scales step delays; 2 plays twice as fast. Zero means 1.
	Speed float64
	// StartAfter is how long a job waits for its first channel before the
	// timeline starts anyway. Zero means 1s.
	StartAfter time.Duration
	Version    string
	Logger     *zap.Logger
}

// Server is the scripted backend.
type Server struct {
	opts     Options
	logger   *zap.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a Server. A nil scenario plays the built-in default.
func New(opts Options) (*Server, error) {
	if opts.Scenario == nil {
		sc, err := LoadScenario("default")
		if err != nil {
			return nil, err
		}
		opts.Scenario = sc
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.StartAfter <= 0 {
		opts.StartAfter = defaultStartAfter
	}
	if opts.Version == "" {
		opts.Version = "fake"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:     opts,
		logger:   opts.Logger.Named("fakebackend"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(s.opts.Token))
		r.Post("/research", s.handleSubmit)
		r.Get("/research/status/{id}", s.handleStatus)
		r.Get("/research/ws/{id}", s.handleChannel)
	})
	return r
}

// Close stops every job timeline and drops every open channel.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, backend.Health{
		Status:    "healthy",
		Message:   fmt.Sprintf("scenario %q", s.opts.Scenario.Name),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.opts.Version,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req backend.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	j := newJob(uuid.New().String())
	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go s.play(j)

	s.logger.Info("job submitted", zap.String("job_id", j.id), zap.String("company", req.Company))
	writeJSON(w, http.StatusOK, map[string]string{"job_id": j.id, "status": "accepted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	j := s.job(chi.URLParam(r, "id"))
	if j == nil {
		writeDetail(w, http.StatusNotFound, "Job not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(j.pollDocument())
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	j := s.job(chi.URLParam(r, "id"))
	if j == nil {
		writeDetail(w, http.StatusNotFound, "Job not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := j.subscribe()
	defer j.unsubscribe(sub)
	j.trigger()

	// Reads only drive control frames and notice the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	logger := s.logger.With(zap.String("job_id", j.id))
	logger.Debug("channel opened")
	for {
		select {
		case f := <-sub.frames:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-sub.kicked:
			if err := drain(conn, sub); err != nil {
				return
			}
			logger.Debug("channel closed", zap.Int("code", sub.code), zap.String("reason", sub.reason))
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(sub.code, sub.reason), time.Now().Add(writeWait))
			return
		case <-gone:
			logger.Debug("peer went away")
			return
		case <-s.ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
			return
		}
	}
}

// drain writes the frames queued before the subscriber was kicked.
func drain(conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case f := <-sub.frames:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Server) job(id string) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// play runs the scenario timeline of one job.
func (s *Server) play(j *job) {
	defer s.wg.Done()

	start := time.NewTimer(s.opts.StartAfter)
	select {
	case <-j.start:
	case <-start.C:
	case <-s.ctx.Done():
		start.Stop()
		return
	}
	start.Stop()

	logger := s.logger.With(zap.String("job_id", j.id))
	for i, st := range s.opts.Scenario.Steps {
		if !s.sleep(st.Delay) {
			return
		}
		if st.Disconnect {
			logger.Debug("scripted disconnect", zap.Int("step", i+1))
			j.kickAll(websocket.CloseGoingAway, "scripted disconnect")
			continue
		}
		if st.pollable() {
			doc, err := json.Marshal(st.statusEvent())
			if err != nil {
				logger.Warn("encoding poll document", zap.Int("step", i+1), zap.Error(err))
			} else {
				j.setPollDocument(doc)
			}
		}
		if st.Silent {
			continue
		}
		f, err := st.frame()
		if err != nil {
			logger.Warn("encoding frame", zap.Int("step", i+1), zap.Error(err))
			continue
		}
		j.publish(f)
	}

	logger.Info("scenario finished", zap.String("scenario", s.opts.Scenario.Name))
	j.finish()
}

func (s *Server) sleep(d time.Duration) bool {
	d = time.Duration(float64(d) / s.opts.Speed)
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"detail": msg})
}
