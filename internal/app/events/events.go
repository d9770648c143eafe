// Package events fans out the effects of committed atomic units to live
// subscribers, e.g. the /events websocket.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/lockswap/internal/app/domain/ledger"
	"github.com/R3E-Network/lockswap/internal/app/storage"
)

const defaultBuffer = 64

// Event is one committed unit.
type Event struct {
	Sequence uint64         `json:"sequence"`
	Sender   ledger.Address `json:"sender,omitempty"`
	At       time.Time      `json:"at"`
	Effects  ledger.Effects `json:"effects"`
}

// Hub delivers events to subscribers without blocking publishers. A
// subscriber whose buffer is full misses the event; the gap shows in the
// sequence numbers.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	seq    uint64
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a stream of events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of open streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish stamps ev with the next sequence number and offers it to every
// subscriber.
func (h *Hub) Publish(ev Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ev.Sequence = h.seq
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Ledger publishes the effects of every unit that commits a change.
type Ledger struct {
	storage.Ledger
	hub   *Hub
	clock storage.Clock
}

var _ storage.Ledger = (*Ledger)(nil)

// Publishing wraps l so committed effects reach hub.
func Publishing(l storage.Ledger, hub *Hub, clock storage.Clock) *Ledger {
	if clock == nil {
		clock = storage.SystemClock{}
	}
	return &Ledger{Ledger: l, hub: hub, clock: clock}
}

func (l *Ledger) Execute(ctx context.Context, sender ledger.Address, fn func(storage.Tx) error) (ledger.Effects, error) {
	effects, err := l.Ledger.Execute(ctx, sender, fn)
	if err == nil && !empty(effects) {
		l.hub.Publish(Event{Sender: sender, At: l.clock.Now(), Effects: effects})
	}
	return effects, err
}

func empty(e ledger.Effects) bool {
	return len(e.Created)+len(e.Mutated)+len(e.Transferred)+len(e.Destroyed) == 0
}
