package events

import (
	"strconv"
	"sync"
	"time"

	"github.com/baluhost/baluhost/pkg/metrics"
)

// Topic partitions the event stream. Ordering is guaranteed per topic only.
type Topic string

const (
	TopicRaidState     Topic = "raid.state"
	TopicRaidSync      Topic = "raid.sync"
	TopicDiskSmart     Topic = "disk.smart"
	TopicSamplerHealth Topic = "sampler.health"
	TopicSchedulerJob  Topic = "scheduler.job"
	TopicMountpoint    Topic = "files.mountpoint"
	TopicAuthToken     Topic = "auth.token"

	// TopicBusDropped is reserved for overflow notices; events on it are
	// never re-reported when dropped themselves.
	TopicBusDropped Topic = "bus.dropped"
)

// EventType identifies what happened.
type EventType string

const (
	EventArrayCreated     EventType = "raid.array.created"
	EventArrayDeleted     EventType = "raid.array.deleted"
	EventArrayDegraded    EventType = "raid.array.degraded"
	EventArrayFailed      EventType = "raid.array.failed"
	EventArrayOptimal     EventType = "raid.array.optimal"
	EventDeviceFailed     EventType = "raid.device.failed"
	EventDeviceRemoved    EventType = "raid.device.removed"
	EventSpareAdded       EventType = "raid.spare.added"
	EventSyncStarted      EventType = "raid.sync.started"
	EventSyncProgress     EventType = "raid.sync.progress"
	EventSyncFinished     EventType = "raid.sync.finished"
	EventSmartFailing     EventType = "disk.smart.failing"
	EventSmartRecovered   EventType = "disk.smart.recovered"
	EventSamplerDegraded  EventType = "sampler.degraded"
	EventSamplerRecovered EventType = "sampler.recovered"
	EventJobStarted       EventType = "scheduler.job.started"
	EventJobSucceeded     EventType = "scheduler.job.succeeded"
	EventJobFailed        EventType = "scheduler.job.failed"
	EventJobFailing       EventType = "scheduler.job.failing"
	EventMountAdded       EventType = "mountpoint.added"
	EventMountRemoved     EventType = "mountpoint.removed"
	EventTokenIssued      EventType = "token.issued"
	EventTokenRevoked     EventType = "token.revoked"
	EventBusDropped       EventType = "bus.dropped"
)

// Event is one published occurrence. Data carries small string facts only;
// payloads big enough to matter belong in the store, keyed by the fields
// here.
type Event struct {
	Topic     Topic
	Type      EventType
	Timestamp time.Time
	Data      map[string]string
}

// Subscription is one subscriber's ordered view of a topic. Receive from C;
// call Cancel when done. After Cancel, C is closed.
type Subscription struct {
	Topic Topic
	C     <-chan Event

	id     int
	ch     chan Event
	broker *Broker
	once   sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.broker.unsubscribe(s)
	})
}

type topicState struct {
	mu   sync.Mutex
	subs map[int]*Subscription
	// dropped counts per subscriber id, for the overflow notice.
	dropped map[int]int64
	queue   chan Event
	done    chan struct{}
}

// Broker is the in-process pub/sub hub. One dispatch goroutine per topic
// preserves publish order for that topic's subscribers. Events are not
// durable; a restart loses anything undelivered.
type Broker struct {
	mu     sync.RWMutex
	topics map[Topic]*topicState
	nextID int
	closed bool
	wg     sync.WaitGroup
}

// NewBroker creates a broker. Topics are materialised lazily on first use.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[Topic]*topicState),
	}
}

// Subscribe attaches a subscriber to a topic with the given buffer size.
// A bufSize below 1 is raised to 1.
func (b *Broker) Subscribe(topic Topic, bufSize int) *Subscription {
	if bufSize < 1 {
		bufSize = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		Topic:  topic,
		id:     b.nextID,
		ch:     make(chan Event, bufSize),
		broker: b,
	}
	sub.C = sub.ch

	ts := b.topicLocked(topic)
	ts.mu.Lock()
	ts.subs[sub.id] = sub
	ts.mu.Unlock()

	return sub
}

// Publish enqueues an event for the topic's dispatcher. Publishing never
// blocks the caller: when the topic queue itself is full the oldest queued
// event is evicted, which counts as a drop for every subscriber.
func (b *Broker) Publish(topic Topic, evType EventType, data map[string]string) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	ts := b.topics[topic]
	b.mu.RUnlock()

	if ts == nil {
		b.mu.Lock()
		ts = b.topicLocked(topic)
		b.mu.Unlock()
	}

	ev := Event{Topic: topic, Type: evType, Timestamp: time.Now(), Data: data}
	metrics.EventsPublished.WithLabelValues(string(topic)).Inc()

	select {
	case ts.queue <- ev:
	default:
		select {
		case <-ts.queue:
			metrics.EventsDropped.WithLabelValues(string(topic)).Inc()
		default:
		}
		select {
		case ts.queue <- ev:
		default:
		}
	}
}

// Close stops all dispatchers and closes every subscriber channel.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	states := make([]*topicState, 0, len(b.topics))
	for _, ts := range b.topics {
		states = append(states, ts)
	}
	b.mu.Unlock()

	for _, ts := range states {
		close(ts.done)
	}
	b.wg.Wait()

	for _, ts := range states {
		ts.mu.Lock()
		for id, sub := range ts.subs {
			delete(ts.subs, id)
			close(sub.ch)
		}
		ts.mu.Unlock()
	}
}

// SubscriberCount returns the number of active subscribers on a topic.
func (b *Broker) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	ts := b.topics[topic]
	b.mu.RUnlock()
	if ts == nil {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.subs)
}

// topicLocked returns the topic state, creating it and starting its
// dispatcher if needed. Caller holds b.mu.
func (b *Broker) topicLocked(topic Topic) *topicState {
	ts, ok := b.topics[topic]
	if ok {
		return ts
	}
	ts = &topicState{
		subs:    make(map[int]*Subscription),
		dropped: make(map[int]int64),
		queue:   make(chan Event, 256),
		done:    make(chan struct{}),
	}
	b.topics[topic] = ts

	b.wg.Add(1)
	go b.dispatch(topic, ts)
	return ts
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.RLock()
	ts := b.topics[sub.Topic]
	b.mu.RUnlock()
	if ts == nil {
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.subs[sub.id]; ok {
		delete(ts.subs, sub.id)
		delete(ts.dropped, sub.id)
		close(sub.ch)
	}
}

// dispatch delivers queued events to every subscriber in order. A full
// subscriber buffer drops that subscriber's oldest event and raises a notice
// on the reserved topic.
func (b *Broker) dispatch(topic Topic, ts *topicState) {
	defer b.wg.Done()
	for {
		select {
		case ev := <-ts.queue:
			b.deliver(topic, ts, ev)
		case <-ts.done:
			// Drain what is already queued so Close does not lose
			// events ahead of the close.
			for {
				select {
				case ev := <-ts.queue:
					b.deliver(topic, ts, ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) deliver(topic Topic, ts *topicState, ev Event) {
	type drop struct {
		id    int
		count int64
	}
	var drops []drop

	ts.mu.Lock()
	for id, sub := range ts.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}

		// Buffer full: evict the oldest, then retry once. The retry can
		// still lose to a concurrent consumer, in which case the event
		// goes through on the freed slot anyway.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}

		ts.dropped[id]++
		drops = append(drops, drop{id: id, count: ts.dropped[id]})
	}
	ts.mu.Unlock()

	// Notices go out after the topic lock is released; Publish takes broker
	// locks and must not nest inside ts.mu.
	for _, d := range drops {
		metrics.EventsDropped.WithLabelValues(string(topic)).Inc()
		if topic != TopicBusDropped {
			b.Publish(TopicBusDropped, EventBusDropped, map[string]string{
				"topic":      string(topic),
				"subscriber": strconv.Itoa(d.id),
				"count":      strconv.FormatInt(d.count, 10),
			})
		}
	}
}
