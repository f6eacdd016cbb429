// Package blockhandler demultiplexes incoming blocks by (context_id,
// section_index) into single-block or stream sections, and maintains the
// block history used for loop detection and bounce-back routing. The
// observer/subscription shape is grounded on the teacher's commbus
// Subscribe/Publish pattern (InMemoryCommBus.Subscribe's idempotent,
// closure-returning unsubscribe).
package blockhandler

import (
	"container/list"
	"sync"
	"time"

	"github.com/datex-network/datex-hub/block"
	"github.com/datex-network/datex-hub/socket"
)

// IncomingSection is a demultiplexed unit of application meaning: either a
// single complete block, or an ongoing stream of blocks sharing one section.
type IncomingSection struct {
	SectionID block.EndpointContextSectionID
	Blocks    chan *block.Block
	isStream  bool
}

func (s *IncomingSection) IsStream() bool { return s.isStream }

type historyEntry struct {
	id              block.ID
	originalSocket  *socket.UUID
	addedAt         time.Time
	listElem        *list.Element
}

// Handler holds the section demux tables and the bounded block history.
type Handler struct {
	mu sync.Mutex

	sections map[block.EndpointContextSectionID]*IncomingSection
	// observers registered before a request is sent, so no response is lost.
	observers map[block.EndpointContextSectionID]chan IncomingSection

	history     map[block.ID]*historyEntry
	historyList *list.List // front = oldest, for FIFO eviction
	capacity    int
	historyTTL  time.Duration

	// contextObservers fire for every first-seen section under a context id,
	// regardless of which endpoint sent it — used by broadcast await-response,
	// where the set of responders isn't known in advance.
	contextObservers map[uint32]chan IncomingSection
}

// New creates a Handler with a bounded FIFO history of the given capacity
// and age bound (the open question spec.md leaves to the implementer).
func New(capacity int, historyTTL time.Duration) *Handler {
	return &Handler{
		sections:         make(map[block.EndpointContextSectionID]*IncomingSection),
		observers:        make(map[block.EndpointContextSectionID]chan IncomingSection),
		contextObservers: make(map[uint32]chan IncomingSection),
		history:          make(map[block.ID]*historyEntry),
		historyList:      list.New(),
		capacity:         capacity,
		historyTTL:       historyTTL,
	}
}

// IsInHistory reports whether a block with this ID has already been seen.
func (h *Handler) IsInHistory(id block.ID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.history[id]
	return ok
}

// OriginalSocket returns the socket a block first arrived on, if recorded.
func (h *Handler) OriginalSocket(id block.ID) (socket.UUID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.history[id]
	if !ok || entry.originalSocket == nil {
		return "", false
	}
	return *entry.originalSocket, true
}

// AddToHistory records a block's ID and the socket it first arrived on (nil
// for the hub's own outgoing blocks), evicting the oldest entry once
// capacity is exceeded and any entries older than historyTTL.
func (h *Handler) AddToHistory(id block.ID, originalSocket *socket.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.history[id]; exists {
		return
	}

	h.evictExpiredLocked()
	for h.historyList.Len() >= h.capacity {
		oldest := h.historyList.Front()
		if oldest == nil {
			break
		}
		h.historyList.Remove(oldest)
		delete(h.history, oldest.Value.(block.ID))
	}

	entry := &historyEntry{id: id, originalSocket: originalSocket, addedAt: time.Now()}
	entry.listElem = h.historyList.PushBack(id)
	h.history[id] = entry
}

func (h *Handler) evictExpiredLocked() {
	if h.historyTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-h.historyTTL)
	for {
		front := h.historyList.Front()
		if front == nil {
			return
		}
		id := front.Value.(block.ID)
		entry, ok := h.history[id]
		if !ok || entry.addedAt.After(cutoff) {
			return
		}
		h.historyList.Remove(front)
		delete(h.history, id)
	}
}

// RegisterObserver creates a subscription for a given section before the
// corresponding request is sent, so no response can be lost to a race.
// The returned unsubscribe func is idempotent.
func (h *Handler) RegisterObserver(id block.EndpointContextSectionID) (<-chan IncomingSection, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan IncomingSection, 1)
	h.observers[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if existing, ok := h.observers[id]; ok && existing == ch {
				delete(h.observers, id)
				close(ch)
			}
		})
	}
	return ch, unsubscribe
}

// RegisterContextObserver subscribes to every first-seen section under
// contextID regardless of sender, for await-response calls whose receiver
// set isn't known in advance (broadcast). Unlike RegisterObserver this can
// fire more than once; the returned unsubscribe is idempotent.
func (h *Handler) RegisterContextObserver(contextID uint32) (<-chan IncomingSection, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan IncomingSection, 16)
	h.contextObservers[contextID] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if existing, ok := h.contextObservers[contextID]; ok && existing == ch {
				delete(h.contextObservers, contextID)
			}
		})
	}
	return ch, unsubscribe
}

// HandleIncomingBlock demultiplexes a freshly validated, locally-addressed
// block into its section, creating the section on first sight and
// notifying any registered observer.
func (h *Handler) HandleIncomingBlock(b *block.Block) {
	sectionID := b.SectionID()

	h.mu.Lock()
	section, alreadyExists := h.sections[sectionID]
	isFirstBlock := !alreadyExists
	if isFirstBlock {
		section = &IncomingSection{
			SectionID: sectionID,
			Blocks:    make(chan *block.Block, 16),
			isStream:  !b.Header.EndOfSection,
		}
		h.sections[sectionID] = section
	}
	observer, hasObserver := h.observers[sectionID]
	contextObserver, hasContextObserver := h.contextObservers[sectionID.ContextID]
	if b.Header.EndOfSection {
		delete(h.sections, sectionID)
	}
	if hasObserver && isFirstBlock {
		delete(h.observers, sectionID)
	}
	h.mu.Unlock()

	section.Blocks <- b
	if b.Header.EndOfSection {
		close(section.Blocks)
	}

	if hasContextObserver && isFirstBlock {
		select {
		case contextObserver <- *section:
		default:
		}
	}

	// The observer is notified once, the first time this section is seen;
	// it then reads further stream blocks directly off section.Blocks.
	if hasObserver && isFirstBlock {
		observer <- *section
		close(observer)
	}
}
