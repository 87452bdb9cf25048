package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kalambet/intelwatch/internal/backend"
	"github.com/kalambet/intelwatch/internal/event"
	"github.com/kalambet/intelwatch/internal/metrics"
	"github.com/kalambet/intelwatch/internal/session"
)

const waitFor = 3 * time.Second

func verifyNoLeaks(t *testing.T) {
	goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// fakeServer scripts the research backend. ws runs once per accepted channel
// dial with the 1-based dial number; accept can reject a dial with 503.
type fakeServer struct {
	mu       sync.Mutex
	dials    int
	submitFn func(w http.ResponseWriter)
	ws       func(conn *websocket.Conn, dial int)
	accept   func(dial int) bool
	status   func() string
}

func (f *fakeServer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	var upgrader websocket.Upgrader
	r := chi.NewRouter()
	r.Post("/research", func(w http.ResponseWriter, r *http.Request) {
		if f.submitFn != nil {
			f.submitFn(w)
			return
		}
		fmt.Fprint(w, `{"job_id":"job-1"}`)
	})
	r.Get("/research/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		body := `{"status":"processing"}`
		if f.status != nil {
			body = f.status()
		}
		fmt.Fprint(w, body)
	})
	r.Get("/research/ws/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.dials++
		n := f.dials
		f.mu.Unlock()
		if f.accept != nil && !f.accept(n) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if f.ws != nil {
			f.ws(conn, n)
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func frame(status string, result map[string]any) []byte {
	data := map[string]any{"status": status}
	if result != nil {
		data["result"] = result
	}
	b, _ := json.Marshal(map[string]any{"type": "status_update", "data": data})
	return b
}

func send(conn *websocket.Conn, frames ...[]byte) {
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
			return
		}
	}
}

// hold blocks until the client goes away.
func hold(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func fastOptions(m *metrics.Metrics) Options {
	return Options{
		Policy: session.Policy{
			MaxReconnectAttempts:  3,
			ReconnectDelay:        10 * time.Millisecond,
			CollapseDelay:         10 * time.Millisecond,
			BriefingCollapseDelay: 20 * time.Millisecond,
		},
		PollInterval: 10 * time.Millisecond,
		Metrics:      m,
	}
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatalf("session did not finish; state: %+v", c.Snapshot())
	}
}

func counterValue(t *testing.T, m *metrics.Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestController_FullRunOverChannel(t *testing.T) {
	defer verifyNoLeaks(t)

	fs := &fakeServer{ws: func(conn *websocket.Conn, _ int) {
		frames := [][]byte{
			frame("processing", map[string]any{"step": "Search"}),
			frame("query_generating", map[string]any{"category": "company", "query_number": 1, "query": "acme"}),
			frame("query_generated", map[string]any{"category": "company", "query_number": 1, "query": "acme revenue"}),
			frame("processing", map[string]any{"step": "Enriching"}),
			frame("category_start", map[string]any{"category": "company", "count": 5}),
		}
		for range 5 {
			frames = append(frames, frame("extracted", map[string]any{"category": "company"}))
		}
		frames = append(frames,
			frame("category_complete", map[string]any{"category": "company", "total": 5, "enriched": 5}),
			frame("processing", map[string]any{"step": "Briefing"}),
		)
		for _, c := range session.BriefingCategories {
			frames = append(frames, frame("briefing_complete", map[string]any{"category": c}))
		}
		frames = append(frames, frame("completed", map[string]any{"report": "FINAL"}))
		send(conn, frames...)
		hold(conn)
	}}
	srv := fs.start(t)
	defer srv.Close()

	m := metrics.New()
	c := New(backend.NewClient(srv.URL), fastOptions(m))
	defer c.Dispose()

	jobID, err := c.Start(context.Background(), backend.Request{Company: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	waitDone(t, c)

	s := c.Snapshot()
	assert.Equal(t, session.StatusComplete, s.Status)
	assert.Equal(t, session.PhaseComplete, s.Phase)
	assert.Equal(t, "FINAL", s.Report)
	assert.Equal(t, session.EnrichmentCount{Total: 5, Enriched: 5}, s.EnrichmentCounts["company"])
	assert.Len(t, s.Queries, 1)
	for _, ok := range s.BriefingStatus {
		assert.True(t, ok)
	}
	assert.Equal(t, 1.0, counterValue(t, m, "intelwatch_sessions_finished_total", "complete"))
}

func TestController_DegradedThenPollerCompletes(t *testing.T) {
	defer verifyNoLeaks(t)

	var ready atomic.Bool
	fs := &fakeServer{
		accept: func(dial int) bool { return dial == 1 },
		ws: func(conn *websocket.Conn, _ int) {
			send(conn, frame("processing", map[string]any{"step": "Search"}))
			// Returning drops the connection without a close frame.
		},
		status: func() string {
			if ready.Load() {
				return `{"status":"completed","result":{"report":"X"}}`
			}
			return `{"status":"processing"}`
		},
	}
	srv := fs.start(t)
	defer srv.Close()

	c := New(backend.NewClient(srv.URL), fastOptions(nil))
	defer c.Dispose()
	require.NoError(t, c.Track(context.Background(), "job-1"))

	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.Status == session.StatusDegraded && s.Error == session.MsgConnectionLost
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 4, fs.dialCount(), "one dial plus three reconnects")

	ready.Store(true)
	waitDone(t, c)

	s := c.Snapshot()
	assert.Equal(t, session.StatusComplete, s.Status)
	assert.Equal(t, "X", s.Report)
	assert.Empty(t, s.Error)
	assert.True(t, s.HasFinalReport)
}

func TestController_DuplicateCompletionAppliedOnce(t *testing.T) {
	defer verifyNoLeaks(t)

	opened := make(chan struct{})
	fs := &fakeServer{ws: func(conn *websocket.Conn, _ int) {
		close(opened)
		hold(conn)
	}}
	srv := fs.start(t)
	defer srv.Close()

	c := New(backend.NewClient(srv.URL), fastOptions(nil))
	defer c.Dispose()
	require.NoError(t, c.Track(context.Background(), "job-1"))
	<-opened

	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	ctx := context.Background()
	c.enqueue(ctx, r, session.StatusInput{Event: event.Completed{Report: "A"}, Source: session.SourceChannel})
	c.enqueue(ctx, r, session.StatusInput{Event: event.Completed{Report: "B"}, Source: session.SourcePoller})

	waitDone(t, c)
	require.Eventually(t, func() bool { return c.Discarded() == 1 }, waitFor, 5*time.Millisecond)
	s := c.Snapshot()
	assert.Equal(t, "A", s.Report)
	assert.Equal(t, session.StatusComplete, s.Status)
}

func TestController_ChannelAndPollerRace(t *testing.T) {
	defer verifyNoLeaks(t)

	fs := &fakeServer{
		ws: func(conn *websocket.Conn, dial int) {
			if dial == 1 {
				return
			}
			send(conn, frame("completed", map[string]any{"report": "A"}))
			hold(conn)
		},
		status: func() string { return `{"status":"completed","result":{"report":"B"}}` },
	}
	srv := fs.start(t)
	defer srv.Close()

	m := metrics.New()
	c := New(backend.NewClient(srv.URL), fastOptions(m))
	defer c.Dispose()
	require.NoError(t, c.Track(context.Background(), "job-1"))
	waitDone(t, c)

	first := c.Snapshot()
	assert.Contains(t, []string{"A", "B"}, first.Report)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, first, c.Snapshot())
	assert.Equal(t, 1.0, counterValue(t, m, "intelwatch_sessions_finished_total", "complete"))
}

func TestController_ResetCancelsEverything(t *testing.T) {
	defer verifyNoLeaks(t)

	released := make(chan struct{})
	fs := &fakeServer{ws: func(conn *websocket.Conn, dial int) {
		send(conn,
			frame("processing", map[string]any{"step": "Search"}),
			frame("processing", map[string]any{"step": "Enriching"}),
		)
		hold(conn)
		if dial == 1 {
			close(released)
		}
	}}
	srv := fs.start(t)
	defer srv.Close()

	opts := fastOptions(nil)
	opts.Policy.CollapseDelay = time.Hour
	c := New(backend.NewClient(srv.URL), opts)
	defer c.Dispose()
	require.NoError(t, c.Track(context.Background(), "job-1"))

	require.Eventually(t, func() bool {
		return c.Snapshot().Phase == session.PhaseEnrichment
	}, waitFor, 5*time.Millisecond)
	old := c.Snapshot()
	done := c.Done()

	c.Reset()

	select {
	case <-released:
	case <-time.After(waitFor):
		t.Fatal("channel still open after reset")
	}
	select {
	case <-done:
	default:
		t.Fatal("Done not closed by reset")
	}

	s := c.Snapshot()
	assert.NotEqual(t, old.ID, s.ID)
	assert.Equal(t, session.StatusIdle, s.Status)
	assert.Equal(t, session.PhaseNone, s.Phase)
	assert.Empty(t, s.JobID)

	c.mu.Lock()
	assert.Nil(t, c.run)
	c.mu.Unlock()

	// A fresh job can be tracked straight away.
	require.NoError(t, c.Track(context.Background(), "job-2"))
	assert.Equal(t, "job-2", c.Snapshot().JobID)
}

func TestController_AlreadyRunning(t *testing.T) {
	defer verifyNoLeaks(t)

	fs := &fakeServer{ws: func(conn *websocket.Conn, _ int) { hold(conn) }}
	srv := fs.start(t)
	defer srv.Close()

	c := New(backend.NewClient(srv.URL), fastOptions(nil))
	defer c.Dispose()

	require.NoError(t, c.Track(context.Background(), "job-1"))
	assert.ErrorIs(t, c.Track(context.Background(), "job-2"), ErrAlreadyRunning)
	_, err := c.Start(context.Background(), backend.Request{Company: "Acme"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, c.Track(context.Background(), ""), ErrNoJob)
}

func TestController_SubmitRejected(t *testing.T) {
	defer verifyNoLeaks(t)

	fs := &fakeServer{submitFn: func(w http.ResponseWriter) {
		http.Error(w, "who are you", http.StatusUnauthorized)
	}}
	srv := fs.start(t)
	defer srv.Close()

	c := New(backend.NewClient(srv.URL), fastOptions(nil))
	defer c.Dispose()

	_, err := c.Start(context.Background(), backend.Request{Company: "Acme"})
	require.ErrorIs(t, err, backend.ErrUnauthorized)
	waitDone(t, c)

	s := c.Snapshot()
	assert.Equal(t, session.StatusFailed, s.Status)
	assert.Contains(t, s.Error, "authentication required")
	assert.Zero(t, fs.dialCount())
}

func TestController_UnclassifiedFramesDropped(t *testing.T) {
	defer verifyNoLeaks(t)

	fs := &fakeServer{ws: func(conn *websocket.Conn, _ int) {
		send(conn,
			[]byte(`not json`),
			[]byte(`{"type":"heartbeat"}`),
			frame("query_generated", map[string]any{"category": "company"}),
			frame("completed", map[string]any{"report": "ok"}),
		)
		hold(conn)
	}}
	srv := fs.start(t)
	defer srv.Close()

	m := metrics.New()
	c := New(backend.NewClient(srv.URL), fastOptions(m))
	defer c.Dispose()
	require.NoError(t, c.Track(context.Background(), "job-1"))
	waitDone(t, c)

	assert.Equal(t, "ok", c.Snapshot().Report)
	assert.Equal(t, 3.0, counterValue(t, m, "intelwatch_events_dropped_total", "unclassified"))
}

func TestController_UpdatesLatestWins(t *testing.T) {
	defer verifyNoLeaks(t)

	fs := &fakeServer{ws: func(conn *websocket.Conn, _ int) {
		send(conn,
			frame("processing", map[string]any{"step": "Search"}),
			frame("report_chunk", map[string]any{"chunk": "a"}),
			frame("report_chunk", map[string]any{"chunk": "b"}),
			frame("completed", map[string]any{}),
		)
		hold(conn)
	}}
	srv := fs.start(t)
	defer srv.Close()

	c := New(backend.NewClient(srv.URL), fastOptions(nil))
	defer c.Dispose()
	require.NoError(t, c.Track(context.Background(), "job-1"))
	waitDone(t, c)
	require.Equal(t, session.StatusComplete, c.Snapshot().Status)

	var last session.State
	select {
	case last = <-c.Updates():
	case <-time.After(waitFor):
		t.Fatal("no update")
	}
	assert.Equal(t, session.StatusComplete, last.Status)
	assert.Equal(t, "ab", last.Report)
}

func TestController_DisposeIsIdempotent(t *testing.T) {
	defer verifyNoLeaks(t)

	c := New(backend.NewClient("http://127.0.0.1:1"), fastOptions(nil))
	c.Dispose()
	c.Dispose()
	assert.ErrorIs(t, c.Track(context.Background(), "job-1"), ErrDisposed)
}
