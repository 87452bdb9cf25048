// Package channel maintains the websocket push channel for one research job.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	maxFrameSize     = 4 << 20
)

// ErrAuthenticationFailed is reported when the handshake is rejected with
// 401 or 403.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Signal is a lifecycle notification from the channel.
type Signal interface {
	signal()
}

type Opened struct{}

// Message carries one raw inbound frame.
type Message struct {
	Data []byte
}

// Closed is emitted once per connection attempt, after it ends for any
// reason other than Close.
type Closed struct {
	Reason string
}

// Errored reports a dial or read error. Connecting is true when the channel
// never opened.
type Errored struct {
	Err        error
	Connecting bool
}

func (Opened) signal()  {}
func (Message) signal() {}
func (Closed) signal()  {}
func (Errored) signal() {}

// Sink receives signals. It is called from the manager's goroutines and
// must return promptly once the session it feeds is gone.
type Sink func(Signal)

// Endpoint resolves the push-channel address for a job.
type Endpoint interface {
	ChannelURL(jobID string) string
	AuthHeader() http.Header
}

// Manager owns at most one live connection plus at most one pending
// reconnect. A closed Manager is not reusable.
type Manager struct {
	endpoint Endpoint
	sink     Sink
	logger   *zap.Logger
	dialer   *websocket.Dialer

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	jobID     string
	conn      *websocket.Conn
	reconnect *time.Timer
	closed    bool
	wg        sync.WaitGroup
}

func NewManager(endpoint Endpoint, sink Sink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		endpoint: endpoint,
		sink:     sink,
		logger:   logger.Named("channel"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Open dials the channel for jobID in the background. Signals arrive on the
// sink.
func (m *Manager) Open(ctx context.Context, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.ctx == nil {
		m.ctx, m.cancel = context.WithCancel(ctx)
	}
	m.jobID = jobID
	m.startLocked()
}

// ScheduleReconnect re-dials after delay. A newer schedule replaces a
// pending one.
func (m *Manager) ScheduleReconnect(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.ctx == nil {
		return
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
	}
	m.reconnect = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return
		}
		m.reconnect = nil
		m.startLocked()
	})
}

// CancelReconnect drops a pending re-dial, if any.
func (m *Manager) CancelReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// Close tears the channel down and waits for its goroutines. It is safe to
// call more than once. No signals are delivered after Close returns.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) startLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.wg.Add(1)
	go m.run(m.ctx, m.jobID)
}

func (m *Manager) run(ctx context.Context, jobID string) {
	defer m.wg.Done()

	url := m.endpoint.ChannelURL(jobID)
	log := m.logger.With(zap.String("job_id", jobID))
	log.Debug("dialing", zap.String("url", url))

	conn, resp, err := m.dialer.DialContext(ctx, url, m.endpoint.AuthHeader())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			err = fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		log.Warn("dial failed", zap.Error(err))
		m.emit(Errored{Err: err, Connecting: true})
		m.emit(Closed{Reason: err.Error()})
		return
	}
	conn.SetReadLimit(maxFrameSize)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.mu.Unlock()

	log.Info("channel open")
	m.emit(Opened{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			superseded := m.conn != conn
			if !superseded {
				m.conn = nil
			}
			m.mu.Unlock()
			conn.Close()
			if superseded {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("read failed", zap.Error(err))
				m.emit(Errored{Err: err})
			} else {
				log.Info("channel closed", zap.Error(err))
			}
			m.emit(Closed{Reason: err.Error()})
			return
		}
		m.emit(Message{Data: data})
	}
}

func (m *Manager) emit(s Signal) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	m.sink(s)
}
