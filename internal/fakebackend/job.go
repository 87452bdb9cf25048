package fakebackend

import (
	"sync"

	"github.com/gorilla/websocket"
)

var pendingDocument = []byte(`{"status":"pending","message":"Research queued"}`)

type subscriber struct {
	frames chan []byte
	kicked chan struct{}
	once   sync.Once
	code   int
	reason string
}

func (s *subscriber) kick(code int, reason string) {
	s.once.Do(func() {
		s.code = code
		s.reason = reason
		close(s.kicked)
	})
}

// job is one submitted research run.
type job struct {
	id        string
	start     chan struct{}
	startOnce sync.Once

	mu       sync.Mutex
	poll     []byte
	subs     map[*subscriber]struct{}
	finished bool
}

func newJob(id string) *job {
	return &job{
		id:    id,
		start: make(chan struct{}),
		poll:  pendingDocument,
		subs:  make(map[*subscriber]struct{}),
	}
}

// trigger starts the timeline if it has not started yet.
func (j *job) trigger() {
	j.startOnce.Do(func() { close(j.start) })
}

func (j *job) subscribe() *subscriber {
	sub := &subscriber{
		frames: make(chan []byte, subscriberQueue),
		kicked: make(chan struct{}),
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.finished {
		sub.kick(websocket.CloseNormalClosure, "research finished")
		return sub
	}
	j.subs[sub] = struct{}{}
	return sub
}

func (j *job) unsubscribe(sub *subscriber) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.subs, sub)
}

// publish fans a frame out to every channel. A subscriber that cannot keep
// up is disconnected.
func (j *job) publish(frame []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for sub := range j.subs {
		select {
		case sub.frames <- frame:
		default:
			sub.kick(websocket.CloseTryAgainLater, "subscriber too slow")
			delete(j.subs, sub)
		}
	}
}

func (j *job) kickAll(code int, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for sub := range j.subs {
		sub.kick(code, reason)
		delete(j.subs, sub)
	}
}

// finish closes every channel. Later dials are closed right away.
func (j *job) finish() {
	j.mu.Lock()
	j.finished = true
	j.mu.Unlock()
	j.kickAll(websocket.CloseNormalClosure, "research finished")
}

func (j *job) setPollDocument(doc []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.poll = doc
}

func (j *job) pollDocument() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.poll
}
