/*
Package events provides the in-memory event broker for BaluHost's pub/sub
messaging.

The events package implements a topic-indexed event bus for broadcasting
storage and platform events to interested subscribers. It supports per-topic
subscriptions with asynchronous delivery, enabling loose coupling between
the RAID controller, samplers, scheduler, token service, and the consumers
that react to them.

# Architecture

BaluHost's event system provides non-blocking pub/sub messaging with one
dispatch pipeline per topic:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-indexed (subscribers pick topics)  │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Per-Topic Distribution             │          │
	│  │                                              │          │
	│  │  Publisher → Topic Queue (buffer: 256)      │          │
	│  │       ↓                                      │          │
	│  │  Topic Dispatcher Goroutine                  │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (caller-sized)          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Topics                             │          │
	│  │                                              │          │
	│  │  raid.state      array lifecycle            │          │
	│  │  raid.sync       resync/rebuild/scrub       │          │
	│  │  disk.smart      SMART health transitions   │          │
	│  │  sampler.health  sampler degradation        │          │
	│  │  scheduler.job   job outcomes               │          │
	│  │  files.mountpoint mount add/remove          │          │
	│  │  auth.token      token issue/revoke         │          │
	│  │  bus.dropped     overflow notices (reserved)│          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  Reconciler: sync mountpoints on raid.state │          │
	│  │  Monitor: track sampler recovery            │          │
	│  │  Metrics: count events for dashboards       │          │
	│  │  Notification job: forward operator alerts  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - One dispatcher goroutine per topic
  - Non-blocking publish (bounded topic queue)
  - Graceful shutdown drains queues and closes channels

Event:
  - Topic: Which stream the event belongs to
  - Type: Event type (array.degraded, job.failed, etc.)
  - Timestamp: Assigned at publish time
  - Data: Key-value pairs for additional context

Subscription:
  - Topic plus a buffered receive channel C
  - Buffer size chosen by the caller (minimum 1)
  - Created via broker.Subscribe(topic, n)
  - Closed via Subscription.Cancel() or broker.Close()

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(topic, type, data)
 2. Event enqueued on the topic queue (oldest evicted when full)
 3. Topic dispatcher receives event
 4. Event sent to every subscriber of that topic, in publish order
 5. Full subscriber buffers drop their oldest event to admit the newest
 6. Each drop publishes a notice on bus.dropped

Subscribe Flow:
 1. Subscriber calls broker.Subscribe(topic, n)
 2. New buffered channel created and registered under the topic
 3. Subscription returned; events arrive on sub.C
 4. Subscriber processes events in its own goroutine

Cancel Flow:
 1. Subscriber calls sub.Cancel()
 2. Channel removed from the topic's subscriber map
 3. Channel closed; Cancel is idempotent

# Delivery Semantics

Publish never blocks the caller, and within one topic every subscriber
sees events in publish order. Across topics there is no ordering
relationship. When a subscriber falls behind, the bus keeps the newest
events and discards the oldest, because in this system a newer state
transition always supersedes an older one. Every discard is announced on
the reserved bus.dropped topic with the source topic, subscriber id, and
the subscriber's cumulative drop count, so silent loss is impossible.

# Usage

Creating a broker:

	import "github.com/baluhost/baluhost/pkg/events"

	broker := events.NewBroker()
	defer broker.Close()

Subscribing to a topic:

	sub := broker.Subscribe(events.TopicRaidState, 64)
	defer sub.Cancel()

	go func() {
		for ev := range sub.C {
			fmt.Printf("event: %s %v\n", ev.Type, ev.Data)
		}
	}()

Publishing events:

	broker.Publish(events.TopicRaidState, events.EventArrayDegraded, map[string]string{
		"array":  "md0",
		"device": "sdb1",
	})

Watching for overflow:

	drops := broker.Subscribe(events.TopicBusDropped, 16)
	defer drops.Cancel()

	go func() {
		for ev := range drops.C {
			log.Warn().
				Str("topic", ev.Data["topic"]).
				Str("count", ev.Data["count"]).
				Msg("subscriber dropping events")
		}
	}()

# Integration Points

This package integrates with:

  - pkg/raid: Publishes raid.state and raid.sync from both backends
  - pkg/monitor: Publishes sampler.health and disk.smart transitions
  - pkg/scheduler: Publishes scheduler.job start/success/failure
  - pkg/tokens: Publishes auth.token issue and revocation
  - pkg/files: Subscribes to raid.state for mountpoint reconciliation
  - pkg/core: Owns the broker lifecycle

# Event Types Catalog

RAID State Events (raid.state):

EventArrayCreated:
  - Published when: Array assembled successfully
  - Data: array, level, devices
  - Subscribers: Mountpoint reconciler, metrics

EventArrayDegraded:
  - Published when: Redundancy lost but array still serving
  - Data: array, device
  - Subscribers: Notification job, metrics

EventArrayFailed:
  - Published when: Array can no longer serve reads
  - Data: array
  - Subscribers: Notification job, reconciler (mark readonly)

EventArrayOptimal:
  - Published when: Array returns to full redundancy
  - Data: array
  - Subscribers: Notification job, metrics

RAID Sync Events (raid.sync):

EventSyncStarted / EventSyncFinished:
  - Published when: resync, rebuild, or scrub begins or ends
  - Data: array, action, progress
  - Subscribers: Progress gauges, notification job

SMART Events (disk.smart):

EventSmartFailing:
  - Published when: A device's SMART health transitions to failing
  - Data: device, health
  - Debounced: once per transition, not once per sample

EventSmartRecovered:
  - Published when: Health transitions back to passing

Sampler Events (sampler.health):

EventSamplerDegraded:
  - Published when: A sampler fails five consecutive ticks
  - Data: sampler, error

EventSamplerRecovered:
  - Published when: A degraded sampler produces a good sample again

Scheduler Events (scheduler.job):

EventJobStarted / EventJobSucceeded / EventJobFailed:
  - Published per execution with job name and duration

EventJobFailing:
  - Published when: Consecutive failures cross the alert threshold
  - Data: job, consecutive_failures

Token Events (auth.token):

EventTokenIssued / EventTokenRevoked:
  - Data: jti, user_id, device_id (never the token itself)

Bus Events (bus.dropped):

EventBusDropped:
  - Published when: A subscriber's buffer overflowed
  - Data: topic, subscriber, count
  - Reserved: only the bus itself publishes here

# Design Patterns

Per-Topic Dispatcher:
  - One goroutine per topic keeps ordering without a global hot-path lock
  - Slow topics never stall fast ones

Drop-Oldest Backpressure:
  - The newest event always wins
  - State transitions supersede older ones for every consumer here

Self-Describing Overflow:
  - Drops surface on bus.dropped instead of disappearing
  - Degraded consumers show up in logs and metrics

Fire-and-Forget:
  - No acknowledgment from subscribers
  - No retry on delivery failure
  - Suitable for monitoring and reconciliation, not critical writes

Graceful Shutdown:
  - broker.Close() stops dispatchers after draining queued events
  - All subscriber channels closed so range loops terminate

# Performance Characteristics

Event Publishing:
  - Latency: < 1µs (channel send)
  - Non-blocking: Never waits for subscribers
  - Bottleneck: Subscriber processing speed

Event Delivery:
  - Per subscriber: ~500ns to 1µs
  - Buffer: caller-sized per subscriber
  - Overflow: Slow subscribers lose oldest events, observably

Memory Usage:
  - Broker: ~1KB baseline plus 256-slot queue per active topic
  - Per subscriber: channel overhead plus buffer
  - Per event: ~200 bytes (struct + data map)

# Troubleshooting

Events Not Received:
  - Symptom: Subscriber receives no events
  - Check: Subscribed to the right topic constant
  - Check: Subscriber goroutine draining sub.C
  - Solution: Verify topic and keep the receive loop alive

Events Dropped:
  - Symptom: bus.dropped notices naming your subscriber
  - Cause: Buffer full (slow processing)
  - Solution: Increase buffer size or process faster

Memory Growth:
  - Symptom: Subscriber count grows over time
  - Cause: Subscriptions never cancelled
  - Solution: Always defer sub.Cancel()

# Best Practices

Do:
  - Always defer sub.Cancel()
  - Process events asynchronously in a goroutine
  - Size buffers for the topic's burst rate
  - Include identifying data (array, device, job) in events
  - Watch bus.dropped in production deployments

Don't:
  - Block in the subscriber event loop
  - Publish secrets or token bytes in event data
  - Rely on event delivery for critical state changes
  - Forget to cancel subscriptions (causes leaks)

# See Also

  - pkg/monitor for the sampler degradation events carried on this bus
  - pkg/files for the reconciler driven by raid.state
  - pkg/metrics for the counters fed by publish and drop paths
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
