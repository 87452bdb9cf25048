// Package tracker runs one research session at a time: it owns the push
// channel, the fallback poller and the collapse timers, and serialises every
// input through a single reducer goroutine.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/intelwatch/internal/backend"
	"github.com/kalambet/intelwatch/internal/channel"
	"github.com/kalambet/intelwatch/internal/event"
	"github.com/kalambet/intelwatch/internal/metrics"
	"github.com/kalambet/intelwatch/internal/poller"
	"github.com/kalambet/intelwatch/internal/session"
)

const defaultQueueSize = 256

var (
	// ErrAlreadyRunning is returned when a job is still being tracked.
	ErrAlreadyRunning = errors.New("a research job is already being tracked")
	// ErrNoJob is returned by operations that need a tracked job.
	ErrNoJob = errors.New("no research job is being tracked")
	// ErrDisposed is returned after Dispose.
	ErrDisposed = errors.New("tracker disposed")
)

// Backend is everything the controller needs from the research service.
type Backend interface {
	Submit(ctx context.Context, req backend.Request) (string, error)
	poller.StatusFetcher
	channel.Endpoint
}

// Options tunes a Controller. Zero values fall back to defaults.
type Options struct {
	Policy       session.Policy
	PollInterval time.Duration
	QueueSize    int
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

type item struct {
	gen uint64
	in  session.Input
}

// run holds the handles that belong to one session. They are torn down
// together on reset, dispose or a new submission.
type run struct {
	gen     uint64
	jobID   string
	ctx     context.Context
	cancel  context.CancelFunc
	arbiter session.Arbiter
	channel *channel.Manager
	poller  *poller.Poller
	timers  map[session.Panel]*time.Timer
}

// Controller is the session controller. All methods are safe for
// concurrent use.
type Controller struct {
	backend  Backend
	reducer  session.Reducer
	policy   session.Policy
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	queue    chan item
	ctx      context.Context
	cancel   context.CancelFunc
	consumed chan struct{}
	dispose  sync.Once

	mu       sync.Mutex
	gen      uint64
	run      *run
	state    session.State
	done     chan struct{}
	updates  chan session.State
	disposed bool
}

// New creates a Controller and starts its reducer goroutine. Call Dispose
// to release it.
func New(b Backend, opts Options) *Controller {
	if opts.Policy == (session.Policy{}) {
		opts.Policy = session.DefaultPolicy()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		backend:  b,
		reducer:  session.NewReducer(opts.Policy),
		policy:   opts.Policy,
		interval: opts.PollInterval,
		logger:   opts.Logger.Named("tracker"),
		metrics:  opts.Metrics,
		queue:    make(chan item, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		consumed: make(chan struct{}),
		state:    session.New(),
		done:     make(chan struct{}),
		updates:  make(chan session.State, 1),
	}
	go c.consume()
	return c
}

// Start submits a research request and begins tracking the new job.
func (c *Controller) Start(ctx context.Context, req backend.Request) (string, error) {
	if err := c.checkIdle(); err != nil {
		return "", err
	}

	jobID, err := c.backend.Submit(ctx, req)
	if err != nil {
		c.abort(fmt.Sprintf("Failed to start research: %v", err))
		return "", fmt.Errorf("starting research: %w", err)
	}
	if err := c.Track(ctx, jobID); err != nil {
		return "", err
	}
	return jobID, nil
}

// Track begins tracking an already submitted job.
func (c *Controller) Track(_ context.Context, jobID string) error {
	if jobID == "" {
		return ErrNoJob
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.run != nil && c.state.Status.Active() {
		return ErrAlreadyRunning
	}
	c.resetLocked()

	r := c.newRun(jobID)
	c.run = r
	c.state, _ = c.reducer.Reduce(c.state, session.Started{JobID: jobID})
	c.publishLocked()

	c.logger.Info("tracking job", zap.String("job_id", jobID), zap.Stringer("session_id", c.state.ID))
	r.channel.Open(r.ctx, jobID)
	return nil
}

// Reset abandons the current session. The channel is closed, the poller
// stopped and pending collapses cancelled before a fresh state is created.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.resetLocked()
	c.publishLocked()
}

// Dispose tears everything down and stops the reducer goroutine. It is safe
// to call more than once.
func (c *Controller) Dispose() {
	c.dispose.Do(func() {
		c.mu.Lock()
		c.disposed = true
		c.teardownLocked()
		c.closeDoneLocked()
		c.mu.Unlock()

		c.cancel()
		<-c.consumed
		c.logger.Debug("disposed")
	})
}

// Snapshot returns a deep copy of the current state.
func (c *Controller) Snapshot() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Updates delivers state snapshots. Only the latest unread snapshot is kept.
func (c *Controller) Updates() <-chan session.State {
	return c.updates
}

// Done is closed when the current session completes, fails or is reset.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Discarded reports how many status inputs the current session's arbiter
// dropped after the terminal transition.
func (c *Controller) Discarded() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return 0
	}
	return c.run.arbiter.Discarded()
}

func (c *Controller) checkIdle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.run != nil && c.state.Status.Active() {
		return ErrAlreadyRunning
	}
	return nil
}

// abort records a submission that never produced a job.
func (c *Controller) abort(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.resetLocked()
	c.state, _ = c.reducer.Reduce(c.state, session.Aborted{Message: msg})
	c.metrics.SessionsFinished.WithLabelValues(string(c.state.Status)).Inc()
	c.publishLocked()
	c.closeDoneLocked()
}

func (c *Controller) newRun(jobID string) *run {
	ctx, cancel := context.WithCancel(c.ctx)
	r := &run{
		gen:    c.gen,
		jobID:  jobID,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[session.Panel]*time.Timer),
	}
	r.channel = channel.NewManager(c.backend, func(s channel.Signal) { c.onSignal(r, s) }, c.logger)
	r.poller = poller.New(c.backend, func(pctx context.Context, ev event.Event) {
		c.enqueue(pctx, r, session.StatusInput{Event: ev, Source: session.SourcePoller})
	}, c.interval, c.logger)
	return r
}

// resetLocked tears the current run down, bumps the generation and installs
// a fresh state.
func (c *Controller) resetLocked() {
	c.teardownLocked()
	c.closeDoneLocked()
	c.gen++
	c.state = session.New()
	c.done = make(chan struct{})
}

func (c *Controller) teardownLocked() {
	r := c.run
	if r == nil {
		return
	}
	c.run = nil
	r.cancel()
	r.stopTimers()
	r.channel.Close()
	r.poller.Stop()
	c.logger.Debug("session torn down", zap.String("job_id", r.jobID))
}

func (c *Controller) closeDoneLocked() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Controller) publishLocked() {
	snap := c.state.Clone()
	select {
	case <-c.updates:
	default:
	}
	c.updates <- snap
}

// onSignal maps channel lifecycle signals onto reducer inputs. It runs on
// the channel's goroutines.
func (c *Controller) onSignal(r *run, s channel.Signal) {
	var in session.Input
	switch v := s.(type) {
	case channel.Opened:
		in = session.ChannelOpened{}
	case channel.Closed:
		in = session.ChannelClosed{Reason: v.Reason}
	case channel.Errored:
		in = session.ChannelErrored{Reason: v.Err.Error(), Connecting: v.Connecting}
	case channel.Message:
		ev := event.Classify(v.Data)
		if ev == nil {
			c.metrics.EventsDropped.WithLabelValues("unclassified").Inc()
			c.logger.Debug("dropping unclassified frame", zap.String("job_id", r.jobID), zap.Int("bytes", len(v.Data)))
			return
		}
		in = session.StatusInput{Event: ev, Source: session.SourceChannel}
	default:
		return
	}
	c.enqueue(r.ctx, r, in)
}

// enqueue blocks until the input is queued or ctx ends.
func (c *Controller) enqueue(ctx context.Context, r *run, in session.Input) {
	if si, ok := in.(session.StatusInput); ok {
		c.metrics.EventsReceived.WithLabelValues(string(si.Event.Kind()), string(si.Source)).Inc()
	}
	select {
	case c.queue <- item{gen: r.gen, in: in}:
		c.metrics.QueueDepth.Set(float64(len(c.queue)))
	case <-ctx.Done():
	case <-r.ctx.Done():
	}
}

func (c *Controller) consume() {
	defer close(c.consumed)
	for {
		select {
		case <-c.ctx.Done():
			return
		case it := <-c.queue:
			c.metrics.QueueDepth.Set(float64(len(c.queue)))
			start := time.Now()
			c.apply(it)
			c.metrics.ReduceLatency.Observe(time.Since(start).Seconds())
		}
	}
}

func (c *Controller) apply(it item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.run
	if r == nil || it.gen != c.gen {
		c.metrics.EventsDropped.WithLabelValues("stale").Inc()
		return
	}
	if !r.arbiter.Admit(c.state, it.in) {
		c.metrics.EventsDropped.WithLabelValues("settled").Inc()
		c.logger.Debug("discarding input after completion", zap.String("job_id", r.jobID))
		return
	}

	prev := c.state
	next, effects := c.reducer.Reduce(prev, it.in)
	if r.arbiter.Settle(prev, next) {
		c.logger.Info("final report received", zap.String("job_id", r.jobID), zap.Int("report_bytes", len(next.Report)))
	}
	c.state = next
	for _, e := range effects {
		c.execute(r, e)
	}
	if next.Status != prev.Status || next.Phase != prev.Phase {
		c.logger.Info("session progressed",
			zap.String("job_id", r.jobID),
			zap.String("status", string(next.Status)),
			zap.String("phase", string(next.Phase)))
	}
	if prev.Status.Active() && (next.Status == session.StatusComplete || next.Status == session.StatusFailed) {
		c.metrics.SessionsFinished.WithLabelValues(string(next.Status)).Inc()
		if next.Error != "" {
			c.logger.Warn("research failed", zap.String("job_id", r.jobID), zap.String("error", next.Error))
		}
		c.closeDoneLocked()
	}
	c.publishLocked()
}

func (c *Controller) execute(r *run, e session.Effect) {
	switch v := e.(type) {
	case session.StartPoller:
		if !r.poller.Running() {
			c.metrics.Polls.WithLabelValues("start").Inc()
		}
		r.poller.Start(r.ctx, r.jobID)
	case session.StopPoller:
		if r.poller.Running() {
			c.metrics.Polls.WithLabelValues("stop").Inc()
		}
		r.poller.Stop()
	case session.Reconnect:
		c.metrics.Reconnects.Inc()
		c.logger.Info("reconnecting", zap.String("job_id", r.jobID), zap.Int("attempt", v.Attempt), zap.Duration("delay", v.Delay))
		r.channel.ScheduleReconnect(v.Delay)
	case session.CancelReconnect:
		r.channel.CancelReconnect()
	case session.ScheduleCollapse:
		if t, ok := r.timers[v.Token.Panel]; ok {
			t.Stop()
		}
		token := v.Token
		r.timers[token.Panel] = time.AfterFunc(v.Delay, func() {
			c.enqueue(r.ctx, r, session.CollapseDue{Token: token})
		})
	case session.CancelCollapses:
		r.stopTimers()
	}
}

func (r *run) stopTimers() {
	for p, t := range r.timers {
		t.Stop()
		delete(r.timers, p)
	}
}
