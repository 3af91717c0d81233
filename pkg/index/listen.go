package index

import (
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/cuemby/vault/pkg/log"
)

const (
	// ChannelTaskAvailable is the channel for "a task became OPEN"
	// wake-ups. Index.Notify can send on it, but no code path in this
	// module does: neither CreateTask nor the BLOCKED->OPEN transition
	// issues a NOTIFY, so idle workers wake on their poll interval.
	ChannelTaskAvailable = "task_available"
	// ChannelTaskCompleted is the channel for "a task reached a terminal
	// state" notices carrying the task id. Index.Notify can send on it,
	// but no code path in this module does.
	ChannelTaskCompleted = "task_completed"
)

// Notification is one payload delivered over the bus.
type Notification struct {
	Channel string
	Payload string
}

// Subscriber is a channel that receives bus notifications.
type Subscriber chan Notification

// Bus is the LISTEN/NOTIFY pub-sub layer of §4.4: it wakes workers
// when new work appears and tells hosts when a task they're waiting
// on completes. It holds its own connection, separate from the pool
// used for transactional work, because LISTEN sessions are stateful
// and must not be recycled by the pool.
type Bus struct {
	listener *pq.Listener

	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	stopCh      chan struct{}
	logger      zerolog.Logger
}

// NewBus opens a dedicated connection for LISTEN against the given
// channels and starts the distribution loop. minReconnect/maxReconnect
// bound pq.Listener's internal backoff on connection loss.
func NewBus(connString string, channels []string, minReconnect, maxReconnect time.Duration) (*Bus, error) {
	logger := log.WithComponent("index.bus")

	listener := pq.NewListener(connString, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn().Err(err).Int("event", int(ev)).Msg("listener event")
		}
	})

	for _, ch := range channels {
		if err := listener.Listen(ch); err != nil {
			listener.Close()
			return nil, err
		}
	}

	b := &Bus{
		listener:    listener,
		subscribers: make(map[Subscriber]bool),
		stopCh:      make(chan struct{}),
		logger:      logger,
	}
	go b.run()
	return b, nil
}

func (b *Bus) run() {
	for {
		select {
		case n, ok := <-b.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				continue // pq signals a reconnect with a nil notification
			}
			b.broadcast(Notification{Channel: n.Channel, Payload: n.Extra})
		case <-time.After(90 * time.Second):
			// Per lib/pq's documented idle-ping pattern: without
			// occasional traffic the driver cannot tell a dead
			// connection from a quiet one.
			go b.listener.Ping()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) broadcast(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- n:
		default:
			b.logger.Warn().Str("channel", n.Channel).Msg("subscriber buffer full, dropping notification")
		}
	}
}

// Subscribe returns a channel fed by every future notification. Callers
// that rely solely on notifications (rather than also polling) accept
// the documented risk that a notification can be lost; the scheduler's
// stale-claim sweep and periodic poll are the backstop.
func (b *Bus) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Notify sends a NOTIFY on channel as a standalone statement on the
// pool, outside any transaction, so it is not atomic with any row
// change; the listener connection is receive-only.
func (x *Index) Notify(channel, payload string) error {
	_, err := x.db.Exec(`SELECT pg_notify($1, $2)`, channel, payload)
	return err
}

// Close stops the distribution loop and the underlying connection.
func (b *Bus) Close() error {
	close(b.stopCh)
	return b.listener.Close()
}
