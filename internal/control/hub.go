package control

import (
	"sync"
	"time"
)

// Event is one runner trace line as streamed on /events.
type Event struct {
	Time time.Time `json:"time"`
	Line string    `json:"line"`
}

// Hub fans trace lines out to websocket subscribers and keeps the most
// recent lines for late joiners. Slow subscribers drop lines rather than
// block the runner.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	recent []Event
	keep   int
	now    func() time.Time
}

// DefaultHistory is how many recent lines a Hub replays to new subscribers.
const DefaultHistory = 100

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 64

// NewHub returns a hub replaying up to keep recent lines.
func NewHub(keep int) *Hub {
	if keep <= 0 {
		keep = DefaultHistory
	}
	return &Hub{
		subs: make(map[chan Event]struct{}),
		keep: keep,
		now:  time.Now,
	}
}

// Publish records line and forwards it to every subscriber. It has the
// runner's LogJob signature.
func (h *Hub) Publish(line string) {
	ev := Event{Time: h.now().UTC(), Line: line}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = append(h.recent, ev)
	if len(h.recent) > h.keep {
		h.recent = h.recent[len(h.recent)-h.keep:]
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns the recent lines and a channel of new ones. Call
// cancel to unsubscribe; it closes the channel.
func (h *Hub) Subscribe() (recent []Event, events <-chan Event, cancel func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	recent = append([]Event(nil), h.recent...)
	h.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return recent, ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
