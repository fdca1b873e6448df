package eventbridge

import (
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50

	// AllPersonas subscribes to every persona's events.
	AllPersonas = "*"
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router fans engine events out to subscribers keyed by persona name, with
// buffering, deduplication, and bounded channel semantics. It implements
// mythos.Observer.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      map[string][]persona.Event
	recent       *recentSet
	channelSize  int
	backlogLimit int
	logger       Logger
}

// Subscription represents an active persona subscription.
type Subscription struct {
	Events <-chan persona.Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with sane defaults.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[string]map[*subscriber]struct{}{},
		backlog:      map[string][]persona.Event{},
		recent:       newRecentSet(DefaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop/diagnostic messages.
func RouterWithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithBacklogLimit overrides the backlog size for pre-subscription buffering.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.recent = newRecentSet(size)
		}
	}
}

// Subscribe registers for events of one persona, or of all personas when
// name is AllPersonas. Buffered events are replayed first.
func (r *Router) Subscribe(name string) Subscription {
	key := normalizeKey(name)
	sub := newSubscriber(r.channelSize, r.logger)
	var backlog []persona.Event
	r.mu.Lock()
	if r.subscribers[key] == nil {
		r.subscribers[key] = map[*subscriber]struct{}{}
	}
	r.subscribers[key][sub] = struct{}{}
	if key == AllPersonas {
		backlog = lo.Flatten(lo.Values(r.backlog))
		r.backlog = map[string][]persona.Event{}
		slices.SortStableFunc(backlog, func(a, b persona.Event) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
	} else if existing := r.backlog[key]; len(existing) > 0 {
		backlog = append(backlog, existing...)
		delete(r.backlog, key)
	}
	r.mu.Unlock()
	for _, event := range backlog {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(key, sub)
		},
	}
}

// Observe satisfies mythos.Observer.
func (r *Router) Observe(event persona.Event) {
	r.Route(event)
}

// Route delivers the event to subscribers or buffers it when no subscriber exists.
func (r *Router) Route(event persona.Event) {
	if event.ID != "" && !r.recent.Add(event.ID) {
		return
	}
	key := normalizeKey(event.PersonaName)
	if key == "" {
		return
	}
	r.mu.RLock()
	subs := append(r.snapshotSubscribers(key), r.snapshotSubscribers(AllPersonas)...)
	r.mu.RUnlock()
	if len(subs) == 0 {
		r.bufferEvent(key, event)
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

func (r *Router) snapshotSubscribers(key string) []*subscriber {
	live := r.subscribers[key]
	if len(live) == 0 {
		return nil
	}
	return lo.Keys(live)
}

func (r *Router) removeSubscriber(key string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[key]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, key)
		}
	}
	sub.close()
}

func (r *Router) bufferEvent(key string, event persona.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.backlog[key]
	if len(queue) >= r.backlogLimit {
		queue = queue[1:]
		if r.logger != nil {
			r.logger.Printf("eventbridge: backlog drop for %s (limit %d)", key, r.backlogLimit)
		}
	}
	queue = append(queue, event)
	r.backlog[key] = queue
}

func normalizeKey(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

// recentSet remembers the last size IDs in insertion order.
type recentSet struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	size  int
}

func newRecentSet(size int) *recentSet {
	return &recentSet{
		ids:   map[string]struct{}{},
		order: make([]string, 0, size),
		size:  size,
	}
}

// Add records id and reports whether it was new.
func (s *recentSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.size {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	return true
}

// Remove forgets id so a failed request can be retried.
func (s *recentSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return
	}
	delete(s.ids, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

type subscriber struct {
	ch      chan persona.Event
	logger  Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan persona.Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan persona.Event {
	return s.ch
}

func (s *subscriber) deliver(event persona.Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}
	// Sends only happen under closeMu, so once one event is taken out the
	// channel has room.
	var oldest persona.Event
	select {
	case oldest = <-s.ch:
	default:
		s.ch <- event
		return
	}
	if shouldDropOldest(oldest, event) {
		s.logDrop(oldest, "queue overflow")
		s.ch <- event
	} else {
		s.ch <- oldest
		s.logDrop(event, "queue overflow:incoming")
	}
}

func (s *subscriber) logDrop(event persona.Event, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("eventbridge: dropped %s event for %s (%s)", event.Type, event.PersonaName, reason)
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// shouldDropOldest keeps stage transitions over plain invocations when a
// subscriber falls behind.
func shouldDropOldest(oldest, incoming persona.Event) bool {
	oldestCritical := isCriticalEvent(oldest.Type)
	incomingCritical := isCriticalEvent(incoming.Type)
	switch {
	case oldestCritical && !incomingCritical:
		return false
	case !oldestCritical && incomingCritical:
		return true
	}
	return true
}

func isCriticalEvent(kind persona.EventType) bool {
	return kind == persona.EventEvolution || kind == persona.EventEmergence || kind == persona.EventCrisis
}
