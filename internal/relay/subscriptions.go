package relay

import (
	"iter"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"
)

// subscriptionBuffer is the per-subscription delivery channel capacity.
// A subscriber that falls this far behind starts losing events rather than
// blocking the ingestion path.
const subscriptionBuffer = 64

// Subscription is one live filter set registered by a connection. It is
// owned exclusively by the Store that created it.
type Subscription struct {
	Connection string
	ID         string
	Filters    []Filter

	events    chan *nostr.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events is the subscription's delivery channel. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan *nostr.Event {
	return s.events
}

// Done is closed when the subscription ends
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.events)
	})
}

// Deliver hands the event to the subscriber without blocking. It reports
// false when the subscription is closed or its buffer is full.
func (s *Subscription) Deliver(event *nostr.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

// connection holds one connection's subscriptions. Mutations on a single
// connection are serialized; independent connections do not contend.
type connection struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// Store is the in-memory registry of live subscriptions across all
// connections
type Store struct {
	conns *xsync.MapOf[string, *connection]
}

// NewStore creates an empty subscription store
func NewStore() *Store {
	return &Store{
		conns: xsync.NewMapOf[string, *connection](),
	}
}

// Subscribe registers filters under (conn, id) and returns the live handle.
// An existing subscription with the same id on the same connection is closed
// first, so re-subscribing is an atomic replace.
func (st *Store) Subscribe(conn, id string, filters []Filter) *Subscription {
	c, _ := st.conns.LoadOrCompute(conn, func() *connection {
		return &connection{subs: make(map[string]*Subscription)}
	})

	sub := &Subscription{
		Connection: conn,
		ID:         id,
		Filters:    filters,
		events:     make(chan *nostr.Event, subscriptionBuffer),
		done:       make(chan struct{}),
	}

	c.mu.Lock()
	if prev, ok := c.subs[id]; ok {
		prev.close()
	}
	c.subs[id] = sub
	c.mu.Unlock()

	return sub
}

// Unsubscribe closes and removes the subscription with the given id
func (st *Store) Unsubscribe(conn, id string) {
	c, ok := st.conns.Load(conn)
	if !ok {
		return
	}

	c.mu.Lock()
	if sub, ok := c.subs[id]; ok {
		sub.close()
		delete(c.subs, id)
	}
	c.mu.Unlock()
}

// Disconnect closes and removes every subscription owned by the connection
func (st *Store) Disconnect(conn string) {
	c, ok := st.conns.LoadAndDelete(conn)
	if !ok {
		return
	}

	c.mu.Lock()
	for id, sub := range c.subs {
		sub.close()
		delete(c.subs, id)
	}
	c.mu.Unlock()
}

// Len returns the total number of live subscriptions
func (st *Store) Len() int {
	total := 0
	st.conns.Range(func(_ string, c *connection) bool {
		c.mu.Lock()
		total += len(c.subs)
		c.mu.Unlock()
		return true
	})
	return total
}

// Match yields every subscription whose filters accept the event. The
// sequence is lazy and single-use; cross-connection ordering is unspecified
// and matching is existential over a connection's filters.
func (st *Store) Match(event *nostr.Event, mctx MatchContext) iter.Seq[*Subscription] {
	return func(yield func(*Subscription) bool) {
		st.conns.Range(func(_ string, c *connection) bool {
			c.mu.Lock()
			snapshot := make([]*Subscription, 0, len(c.subs))
			for _, sub := range c.subs {
				snapshot = append(snapshot, sub)
			}
			c.mu.Unlock()

			for _, sub := range snapshot {
				if MatchAny(sub.Filters, event, mctx) {
					if !yield(sub) {
						return false
					}
				}
			}
			return true
		})
	}
}

// Dispatch delivers the event to every matching subscription and reports
// how many deliveries succeeded and how many were dropped.
func (st *Store) Dispatch(event *nostr.Event, mctx MatchContext) (delivered, dropped int) {
	for sub := range st.Match(event, mctx) {
		if sub.Deliver(event) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
