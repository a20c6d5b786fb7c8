// Package queue holds outbound chat messages that have not been confirmed as delivered.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/eventbus"
	chatmodel "github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/store"
)

// ErrMessageNotFound is returned when an operation references an unknown queue entry.
var ErrMessageNotFound = errors.New("queued message not found")

// QueuedMessage is an outbound message awaiting delivery.
type QueuedMessage struct {
	ID         string                   `json:"id"`
	MessageID  string                   `json:"messageId,omitempty"`
	Text       string                   `json:"text"`
	SessionID  string                   `json:"sessionId,omitempty"`
	Timestamp  time.Time                `json:"timestamp"`
	RetryCount int                      `json:"retryCount"`
	Status     chatmodel.DeliveryStatus `json:"status"`
}

// SendFunc delivers one message. A nil error means the transport accepted it.
type SendFunc func(ctx context.Context, msg QueuedMessage) error

// Status summarises the queue for badges.
type Status struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// Option customises an entry at enqueue time.
type Option func(*QueuedMessage)

// WithStatus sets the initial delivery status (pending by default).
func WithStatus(status chatmodel.DeliveryStatus) Option {
	return func(m *QueuedMessage) { m.Status = status }
}

// WithMessageID links the entry to the chat message it carries.
func WithMessageID(id string) Option {
	return func(m *QueuedMessage) { m.MessageID = id }
}

// Queue is a FIFO of outbound messages persisted to a single KV key on every mutation.
type Queue struct {
	kv     store.KV
	cfg    config.QueueConfig
	logger *zap.Logger

	mu      sync.Mutex
	items   []QueuedMessage
	version uint64
	timers  map[string]*time.Timer
	closed  bool

	persistMu sync.Mutex
	persisted uint64

	processing atomic.Bool

	sizeBus   *eventbus.Bus[int]
	statusBus *eventbus.Bus[QueuedMessage]
}

// QueueOption customises a Queue at construction.
type QueueOption func(*Queue)

// WithSendInterval overrides the pause between sends without applying the
// config.MinSendInterval floor.
func WithSendInterval(d time.Duration) QueueOption {
	return func(q *Queue) { q.cfg.SendInterval = d }
}

// New loads any persisted entries from kv. Unreadable data yields an empty queue.
// cfg.SendInterval is raised to config.MinSendInterval.
func New(ctx context.Context, kv store.KV, cfg config.QueueConfig, logger *zap.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = "message_queue"
	}
	cfg.SendInterval = max(cfg.SendInterval, config.MinSendInterval)
	logger = logger.Named("queue")

	q := &Queue{
		kv:        kv,
		cfg:       cfg,
		logger:    logger,
		timers:    make(map[string]*time.Timer),
		sizeBus:   eventbus.New[int]("queue.size", logger),
		statusBus: eventbus.New[QueuedMessage]("queue.status", logger),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.items = q.load(ctx)
	return q
}

func (q *Queue) load(ctx context.Context) []QueuedMessage {
	raw, err := q.kv.Get(ctx, q.cfg.StorageKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		q.logger.Warn("failed to read persisted queue, starting empty", zap.Error(err))
		return nil
	}

	var items []QueuedMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		q.logger.Warn("persisted queue is corrupt, starting empty", zap.Error(err))
		return nil
	}

	kept := items[:0]
	for _, item := range items {
		switch item.Status {
		case chatmodel.StatusSent:
			// grace period elapsed while the process was down
			continue
		case chatmodel.StatusSending:
			// interrupted mid-send by a restart
			item.Status = chatmodel.StatusPending
		}
		kept = append(kept, item)
	}
	return kept
}

// Enqueue appends a new entry and persists the queue.
func (q *Queue) Enqueue(ctx context.Context, text, sessionID string, opts ...Option) QueuedMessage {
	msg := QueuedMessage{
		ID:        uuid.NewString(),
		Text:      text,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Status:    chatmodel.StatusPending,
	}
	for _, opt := range opts {
		opt(&msg)
	}

	q.mu.Lock()
	q.items = append(q.items, msg)
	size := len(q.items)
	snapshot, version := q.snapshotLocked()
	q.mu.Unlock()

	q.persist(ctx, snapshot, version)
	q.sizeBus.Publish(size)
	q.statusBus.Publish(msg)
	return msg
}

// ProcessQueue delivers every pending entry and every failed entry that still
// has retries left, in FIFO order, waiting SendInterval between sends. A call
// made while another is running returns immediately.
func (q *Queue) ProcessQueue(ctx context.Context, send SendFunc) error {
	if !q.processing.CompareAndSwap(false, true) {
		return nil
	}
	defer q.processing.Store(false)

	ids := q.retryableIDs()
	for i, id := range ids {
		if i > 0 {
			if err := q.wait(ctx); err != nil {
				return err
			}
		}

		msg, ok := q.transition(ctx, id, func(m *QueuedMessage) bool {
			if m.Status != chatmodel.StatusPending && m.Status != chatmodel.StatusFailed {
				return false
			}
			if m.RetryCount >= q.cfg.MaxRetries {
				m.Status = chatmodel.StatusFailed
				return false
			}
			m.Status = chatmodel.StatusSending
			return true
		})
		if !ok {
			continue
		}

		err := send(ctx, msg)
		if err == nil {
			q.markSent(ctx, id)
			continue
		}

		q.logger.Warn("queued message delivery failed",
			zap.String("id", id),
			zap.Int("attempt", msg.RetryCount+1),
			zap.Error(err))
		q.transition(ctx, id, func(m *QueuedMessage) bool {
			m.RetryCount++
			if m.RetryCount >= q.cfg.MaxRetries {
				m.Status = chatmodel.StatusFailed
			} else {
				m.Status = chatmodel.StatusPending
			}
			return true
		})
	}
	return nil
}

// Retry re-sends a single failed entry on demand. Entries that are not failed are left untouched.
func (q *Queue) Retry(ctx context.Context, id string, send SendFunc) error {
	var found bool
	msg, ok := q.transition(ctx, id, func(m *QueuedMessage) bool {
		found = true
		if m.Status != chatmodel.StatusFailed {
			return false
		}
		m.Status = chatmodel.StatusSending
		return true
	})
	if !found {
		return ErrMessageNotFound
	}
	if !ok {
		return nil
	}

	if err := send(ctx, msg); err != nil {
		q.logger.Warn("manual retry failed", zap.String("id", id), zap.Error(err))
		q.transition(ctx, id, func(m *QueuedMessage) bool {
			m.Status = chatmodel.StatusFailed
			return true
		})
		return nil
	}
	q.markSent(ctx, id)
	return nil
}

// Get returns a copy of the entry with the given id.
func (q *Queue) Get(id string) (QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i := q.indexLocked(id); i >= 0 {
		return q.items[i], true
	}
	return QueuedMessage{}, false
}

// Messages returns a copy of every entry in FIFO order.
func (q *Queue) Messages() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]QueuedMessage(nil), q.items...)
}

// Size returns the number of entries, including sent entries still in their grace period.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Status counts entries by delivery state. Failed entries also count as pending.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{Total: len(q.items)}
	for _, m := range q.items {
		switch m.Status {
		case chatmodel.StatusPending:
			st.Pending++
		case chatmodel.StatusFailed:
			st.Pending++
			st.Failed++
		}
	}
	return st
}

// Clear drops every entry.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.items = nil
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	snapshot, version := q.snapshotLocked()
	q.mu.Unlock()

	q.persist(ctx, snapshot, version)
	q.sizeBus.Publish(0)
}

// OnSizeChange registers fn to receive the queue size after every add or remove.
func (q *Queue) OnSizeChange(fn func(size int)) (unsubscribe func()) {
	return q.sizeBus.Subscribe(fn)
}

// OnStatusChange registers fn to receive an entry whenever its status changes.
func (q *Queue) OnStatusChange(fn func(QueuedMessage)) (unsubscribe func()) {
	return q.statusBus.Subscribe(fn)
}

// Close stops pending purge timers. Sent entries still waiting are dropped on the next load.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}

func (q *Queue) retryableIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for _, m := range q.items {
		if m.Status == chatmodel.StatusPending || m.Status == chatmodel.StatusFailed {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// transition applies fn to the entry under the lock. When fn reports a change
// the queue is persisted and subscribers are told about the new status.
func (q *Queue) transition(ctx context.Context, id string, fn func(*QueuedMessage) bool) (QueuedMessage, bool) {
	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return QueuedMessage{}, false
	}
	before := q.items[i].Status
	changed := fn(&q.items[i])
	msg := q.items[i]
	dirty := changed || msg.Status != before
	var (
		snapshot []byte
		version  uint64
	)
	if dirty {
		snapshot, version = q.snapshotLocked()
	}
	q.mu.Unlock()

	if dirty {
		q.persist(ctx, snapshot, version)
		q.statusBus.Publish(msg)
	}
	return msg, changed
}

func (q *Queue) markSent(ctx context.Context, id string) {
	q.transition(ctx, id, func(m *QueuedMessage) bool {
		m.Status = chatmodel.StatusSent
		return true
	})

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.timers[id] = time.AfterFunc(q.cfg.SentGrace, func() {
		q.remove(context.Background(), id)
	})
}

func (q *Queue) remove(ctx context.Context, id string) {
	q.mu.Lock()
	delete(q.timers, id)
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
	size := len(q.items)
	snapshot, version := q.snapshotLocked()
	q.mu.Unlock()

	q.persist(ctx, snapshot, version)
	q.sizeBus.Publish(size)
}

func (q *Queue) wait(ctx context.Context) error {
	if q.cfg.SendInterval <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(q.cfg.SendInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) snapshotLocked() ([]byte, uint64) {
	q.version++
	items := q.items
	if items == nil {
		items = []QueuedMessage{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		q.logger.Error("failed to encode queue", zap.Error(err))
		return nil, q.version
	}
	return data, q.version
}

// persist writes snapshot unless a newer one has already been written.
func (q *Queue) persist(ctx context.Context, snapshot []byte, version uint64) {
	if snapshot == nil {
		return
	}
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	if version <= q.persisted {
		return
	}
	if err := q.kv.Set(context.WithoutCancel(ctx), q.cfg.StorageKey, snapshot); err != nil {
		q.logger.Error("failed to persist queue", zap.Error(err))
		return
	}
	q.persisted = version
}
