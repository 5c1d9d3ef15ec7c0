package progress

import "sync"

// Hub fans job events out to any number of live subscribers per job.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Channel]struct{}
	bufLen int
}

// NewHub creates a Hub whose subscriber channels buffer bufLen events.
func NewHub(bufLen int) *Hub {
	return &Hub{subs: make(map[string]map[*Channel]struct{}), bufLen: bufLen}
}

// Subscribe attaches a new channel to jobID. The returned function detaches
// and closes it; it is safe to call more than once.
func (h *Hub) Subscribe(jobID string) (*Channel, func()) {
	ch := NewChannel(h.bufLen)
	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*Channel]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if set := h.subs[jobID]; set != nil {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, jobID)
			}
		}
		h.mu.Unlock()
		ch.Close()
	}
}

// Publish delivers ev to every subscriber of jobID. A terminal event also
// closes and detaches those subscribers.
func (h *Hub) Publish(jobID string, ev Event) {
	h.mu.Lock()
	set := h.subs[jobID]
	targets := make([]*Channel, 0, len(set))
	for ch := range set {
		targets = append(targets, ch)
	}
	if ev.Terminal() {
		delete(h.subs, jobID)
	}
	h.mu.Unlock()

	for _, ch := range targets {
		ch.Publish(ev)
		if ev.Terminal() {
			ch.Close()
		}
	}
}

// Subscribers returns the number of live subscribers for jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
