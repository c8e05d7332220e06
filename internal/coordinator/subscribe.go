package coordinator

import (
	"context"

	"barlink-service/internal/models"
)

const subscriptionBuffer = 64

type subscription struct {
	groups map[string]bool
	kinds  map[models.EventKind]bool
	ch     chan models.Event
}

// Subscribe returns an in-process stream of the events the session's groups
// receive, optionally filtered by kind. The cancel func must be called when
// the consumer goes away. A slow consumer loses events rather than blocking
// publishers; the reconciliation read covers the gap.
func (c *Coordinator) Subscribe(session Session, kinds ...models.EventKind) (<-chan models.Event, func()) {
	sub := &subscription{
		groups: make(map[string]bool),
		ch:     make(chan models.Event, subscriptionBuffer),
	}
	for _, g := range c.GroupsFor(session) {
		sub.groups[g] = true
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[models.EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	c.mu.Lock()
	c.subs[sub] = true
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if c.subs[sub] {
			delete(c.subs, sub)
			close(sub.ch)
		}
		c.mu.Unlock()
	}
	return sub.ch, cancel
}

func (c *Coordinator) dispatch(event models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		if !sub.groups[event.Group] {
			continue
		}
		if sub.kinds != nil && !sub.kinds[event.Kind] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// tapPublisher forwards to the hub publisher and mirrors every event to
// in-process subscribers. Dispatch happens even when the hub rejects the
// publish; local consumers are on the same persisted state.
type tapPublisher struct {
	inner interface {
		Publish(ctx context.Context, event models.Event) error
	}
	coord *Coordinator
}

func (p *tapPublisher) Publish(ctx context.Context, event models.Event) error {
	var err error
	if p.inner != nil {
		err = p.inner.Publish(ctx, event)
	}
	p.coord.dispatch(event)
	return err
}
