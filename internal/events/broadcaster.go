package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clinicguard/internal/protocol"
)

const subscriberBufferSize = 64

// Broadcaster fans call events out to live subscribers. Publishing never
// blocks: events are dropped for subscribers whose buffers are full.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	log         logrus.FieldLogger
}

type subscriber struct {
	callID string
	ch     chan protocol.CallEvent
}

func NewBroadcaster(log logrus.FieldLogger) *Broadcaster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		log:         log.WithField("component", "broadcaster"),
	}
}

// Subscribe registers for events of callID, or every call when callID is
// empty. The subscription is removed when ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context, callID string) (<-chan protocol.CallEvent, string) {
	subID := uuid.NewString()
	ch := make(chan protocol.CallEvent, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = &subscriber{callID: callID, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()
	return ch, subID
}

// Publish stamps ev with an id and timestamp when missing and delivers it.
func (b *Broadcaster) Publish(ev protocol.CallEvent) {
	if b == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.TSMs == 0 {
		ev.TSMs = time.Now().UnixMilli()
	}

	b.mu.RLock()
	targets := make([]chan protocol.CallEvent, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.callID == "" || sub.callID == ev.CallID {
			targets = append(targets, sub.ch)
		}
	}
	// Sends stay under the read lock so Unsubscribe cannot close a channel mid-send.
	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			b.log.WithFields(logrus.Fields{"call_id": ev.CallID, "event_id": ev.ID}).Debug("dropped event for slow subscriber")
		}
	}
	b.mu.RUnlock()
}

func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(sub.ch)
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close drops every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
