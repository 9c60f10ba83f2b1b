package notify

import (
	"errors"
	"sync"

	"github.com/example/taxi-dispatch/internal/models"
)

var (
	// ErrOfferClosed means the offer is unknown, already answered or past its window.
	ErrOfferClosed = errors.New("offer is no longer open")
	ErrWrongDriver = errors.New("offer was made to another driver")
)

// Hub correlates driver replies with outstanding offers. Each offer resolves at most once.
type Hub struct {
	mu      sync.Mutex
	pending map[string]pendingOffer
}

type pendingOffer struct {
	endpoint models.Endpoint
	replies  chan bool
}

func NewHub() *Hub {
	return &Hub{pending: make(map[string]pendingOffer)}
}

// Register opens offerID for replies from ep. The returned func closes it; replies after that
// are discarded with ErrOfferClosed.
func (h *Hub) Register(offerID string, ep models.Endpoint) (<-chan bool, func()) {
	ch := make(chan bool, 1)
	h.mu.Lock()
	h.pending[offerID] = pendingOffer{endpoint: ep, replies: ch}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		if p, ok := h.pending[offerID]; ok && p.replies == ch {
			delete(h.pending, offerID)
		}
		h.mu.Unlock()
	}
}

// Resolve delivers a reply identified by driver id.
func (h *Hub) Resolve(resp models.OfferResponse) error {
	return h.resolve(resp.OfferID, resp.Accept, func(ep models.Endpoint) bool { return ep.DriverID == resp.DriverID })
}

// ResolveAccount delivers a reply identified by the driver's account id.
func (h *Hub) ResolveAccount(offerID string, accountID int64, accept bool) error {
	return h.resolve(offerID, accept, func(ep models.Endpoint) bool { return ep.AccountID == accountID })
}

func (h *Hub) resolve(offerID string, accept bool, owns func(models.Endpoint) bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pending[offerID]
	if !ok {
		return ErrOfferClosed
	}
	if !owns(p.endpoint) {
		return ErrWrongDriver
	}
	delete(h.pending, offerID)
	p.replies <- accept
	return nil
}

// Open reports how many offers are waiting for a reply.
func (h *Hub) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
