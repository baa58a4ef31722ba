package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrJournalNotFound is returned for operations on jobs without a journal.
	ErrJournalNotFound = errors.New("journal not found")

	// ErrJournalTerminal is returned when appending after done/error.
	ErrJournalTerminal = errors.New("journal is terminal")
)

// DefaultBufferSize is the per-job event retention when no size is configured.
const DefaultBufferSize = 256

// Bus holds one journal per active job. Journals are created by the job
// managers, read by stream handlers, and discarded when the job becomes
// disposable.
type Bus struct {
	mu         sync.RWMutex
	journals   map[string]*journal
	bufferSize int

	backlogDiscarded atomic.Int64
}

// NewBus creates a Bus with the given per-job buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		journals:   make(map[string]*journal),
		bufferSize: bufferSize,
	}
}

// CreateJournal registers a journal for a job. Idempotent.
func (b *Bus) CreateJournal(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.journals[jobID]; !exists {
		b.journals[jobID] = newJournal(jobID, b.bufferSize, &b.backlogDiscarded)
	}
}

// Append marshals the payload and appends one event to the job's journal,
// returning the assigned seq. Appending a done or error event makes the
// journal terminal; later appends fail with ErrJournalTerminal.
func (b *Bus) Append(jobID string, typ EventType, payload any) (int64, error) {
	j, err := b.journal(jobID)
	if err != nil {
		return 0, err
	}

	var data json.RawMessage
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
	}
	return j.append(typ, data)
}

// Subscribe attaches to a job's stream, replaying retained events with
// seq > lastSeq first. Pass lastSeq 0 for a full replay.
func (b *Bus) Subscribe(jobID string, lastSeq int64) (*Subscription, error) {
	j, err := b.journal(jobID)
	if err != nil {
		return nil, err
	}
	return j.subscribe(lastSeq), nil
}

// Close discards a job's journal and ends all of its subscriptions. Called
// when the owning manager deems the job disposable.
func (b *Bus) Close(jobID string) {
	b.mu.Lock()
	j, exists := b.journals[jobID]
	delete(b.journals, jobID)
	b.mu.Unlock()

	if exists {
		j.shutdown()
	}
}

// SubscriberCount returns the number of live subscribers on a job.
func (b *Bus) SubscriberCount(jobID string) int {
	j, err := b.journal(jobID)
	if err != nil {
		return 0
	}
	return j.subscriberCount()
}

// IsTerminal reports whether the job's journal has seen its terminal event.
func (b *Bus) IsTerminal(jobID string) bool {
	j, err := b.journal(jobID)
	if err != nil {
		return false
	}
	return j.isTerminal()
}

// ActiveJournals returns the number of journals currently held.
func (b *Bus) ActiveJournals() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.journals)
}

// JournalIDs returns the job ids of all journals currently held.
func (b *Bus) JournalIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.journals))
	for id := range b.journals {
		ids = append(ids, id)
	}
	return ids
}

// BacklogDiscarded returns the total number of events evicted from journal
// buffers since startup. Monitoring only.
func (b *Bus) BacklogDiscarded() int64 {
	return b.backlogDiscarded.Load()
}

func (b *Bus) journal(jobID string) (*journal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	j, exists := b.journals[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: job %s", ErrJournalNotFound, jobID)
	}
	return j, nil
}
