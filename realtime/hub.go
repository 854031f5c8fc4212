package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camden-git/facetagger/models"
)

// ErrHubClosed is returned by Subscribe once the hub stopped running.
var ErrHubClosed = errors.New("realtime: hub closed")

// SnapshotLoader reads the current read model from the store.
type SnapshotLoader func(ctx context.Context) ([]models.DisplayImage, error)

// Snapshot is one complete view of the images with faces.
type Snapshot struct {
	Version   uint64                `json:"version"`
	Images    []models.DisplayImage `json:"images"`
	Timestamp int64                 `json:"timestamp"`
}

// Subscription receives snapshots on C. C holds at most one pending snapshot;
// a newer snapshot replaces an unread one. C is closed when the subscription
// ends.
type Subscription struct {
	ID uuid.UUID
	C  <-chan Snapshot

	ch   chan Snapshot
	hub  *Hub
	stop func() bool
	once sync.Once
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// end releases the context hook and closes C. Called with publishMu held.
func (s *Subscription) end() {
	if s.stop != nil {
		s.stop()
	}
	close(s.ch)
}

// offer delivers snap, discarding an unread older snapshot. Only the
// publisher calls it, with publishMu held.
func (s *Subscription) offer(snap Snapshot) (dropped bool) {
	for {
		select {
		case s.ch <- snap:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}

// Hub pushes a fresh snapshot to every subscriber after each Notify.
type Hub struct {
	load   SnapshotLoader
	notify chan struct{}

	// publishMu orders loading and delivery so a subscriber never sees an
	// older snapshot after a newer one.
	publishMu sync.Mutex
	subs      map[uuid.UUID]*Subscription
	version   uint64
	closed    bool
}

func NewHub(load SnapshotLoader) *Hub {
	return &Hub{
		load:   load,
		notify: make(chan struct{}, 1),
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

// Notify marks the read model as changed. Notifications that arrive while a
// refresh is pending are coalesced.
func (h *Hub) Notify() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Run publishes snapshots until ctx is done, then closes all subscriptions.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.notify:
			if err := h.refresh(ctx); err != nil && ctx.Err() == nil {
				log.Printf("realtime: failed to load snapshot: %v", err)
			}
		}
	}
}

// Subscribe registers a subscriber whose first value is the current snapshot.
// The subscription ends when ctx is done or Close is called.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	images, err := h.load(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan Snapshot, 1)
	sub := &Subscription{ID: uuid.New(), C: ch, ch: ch, hub: h}
	h.subs[sub.ID] = sub
	sub.offer(Snapshot{Version: h.version, Images: images, Timestamp: time.Now().Unix()})
	sub.stop = context.AfterFunc(ctx, sub.Close)
	return sub, nil
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	return len(h.subs)
}

func (h *Hub) refresh(ctx context.Context) error {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	if h.closed || len(h.subs) == 0 {
		// nothing to deliver; the next subscriber loads its own snapshot
		h.version++
		return nil
	}

	images, err := h.load(ctx)
	if err != nil {
		return err
	}
	h.version++
	snap := Snapshot{Version: h.version, Images: images, Timestamp: time.Now().Unix()}
	for _, sub := range h.subs {
		sub.offer(snap)
	}
	return nil
}

func (h *Hub) remove(sub *Subscription) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	if _, ok := h.subs[sub.ID]; ok {
		delete(h.subs, sub.ID)
		sub.end()
	}
}

func (h *Hub) shutdown() {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.end()
	}
}
