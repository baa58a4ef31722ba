package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// journal is the single logical owner of one job's event state. Every
// transition happens under mu; subscriber channels are only written while
// the lock is held, so per-subscriber delivery stays in seq order.
type journal struct {
	jobID      string
	bufferSize int

	mu          sync.Mutex
	seq         int64
	buffer      []Event // retained tail, at most bufferSize events
	terminal    bool
	subscribers map[string]*Subscription

	backlogDiscarded *atomic.Int64
}

func newJournal(jobID string, bufferSize int, discarded *atomic.Int64) *journal {
	return &journal{
		jobID:            jobID,
		bufferSize:       bufferSize,
		subscribers:      make(map[string]*Subscription),
		backlogDiscarded: discarded,
	}
}

// append assigns the next seq, retains the event, and fans it out. A
// subscriber whose channel is full is dropped with a synthetic overflow
// final event instead of back-pressuring the producer.
func (j *journal) append(typ EventType, data json.RawMessage) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.terminal {
		return 0, fmt.Errorf("%w: job %s", ErrJournalTerminal, j.jobID)
	}

	j.seq++
	ev := Event{JobID: j.jobID, Seq: j.seq, Type: typ, Data: data, At: time.Now().UTC()}

	j.buffer = append(j.buffer, ev)
	if len(j.buffer) > j.bufferSize {
		j.buffer = j.buffer[1:]
		j.backlogDiscarded.Add(1)
	}

	for id, sub := range j.subscribers {
		select {
		case sub.ch <- ev:
		default:
			delete(j.subscribers, id)
			sub.dropWithOverflow(j.jobID, ev.Seq)
		}
	}

	if typ.Terminal() {
		j.terminal = true
		for id, sub := range j.subscribers {
			delete(j.subscribers, id)
			close(sub.ch)
		}
	}

	return ev.Seq, nil
}

// subscribe replays retained events with seq > lastSeq, then attaches for
// live delivery. On a terminal journal the returned subscription ends right
// after the replay.
func (j *journal) subscribe(lastSeq int64) *Subscription {
	j.mu.Lock()
	defer j.mu.Unlock()

	sub := &Subscription{
		ID:    uuid.New().String(),
		JobID: j.jobID,
		ch:    make(chan Event, j.bufferSize),
	}
	sub.cancel = func() { j.detach(sub.ID) }

	for _, ev := range j.buffer {
		if ev.Seq > lastSeq {
			sub.ch <- ev
		}
	}

	if j.terminal {
		close(sub.ch)
	} else {
		j.subscribers[sub.ID] = sub
	}
	return sub
}

// detach removes a subscriber and closes its channel if it was still
// attached. Safe against races with terminal close and overflow drops.
func (j *journal) detach(subID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if sub, ok := j.subscribers[subID]; ok {
		delete(j.subscribers, subID)
		close(sub.ch)
	}
}

// shutdown closes every subscriber channel and marks the journal terminal.
func (j *journal) shutdown() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.terminal = true
	for id, sub := range j.subscribers {
		delete(j.subscribers, id)
		close(sub.ch)
	}
}

func (j *journal) subscriberCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.subscribers)
}

func (j *journal) isTerminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.terminal
}

// Subscription is one consumer's independent position on a job stream.
// Consumers call Next until it reports false; a consumer that stops pulling
// is eventually dropped by the producer side, never the other way around.
type Subscription struct {
	ID    string
	JobID string

	ch     chan Event
	cancel func()

	overflowed    atomic.Bool
	overflowEvent Event
}

// Next blocks for the next event. It returns false when the stream has
// ended (terminal event consumed, subscriber detached, or ctx done). A
// dropped subscriber receives one synthetic overflow event before the end.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-s.ch:
		if ok {
			return ev, true
		}
		if s.overflowed.Swap(false) {
			return s.overflowEvent, true
		}
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

// Cancel detaches the subscription. Idempotent.
func (s *Subscription) Cancel() {
	s.cancel()
}

// dropWithOverflow is called by the journal, under its lock, when this
// subscriber's channel is full. The overflow event is staged before the
// close so the reader observes it after draining the channel.
func (s *Subscription) dropWithOverflow(jobID string, lastSeq int64) {
	data, _ := json.Marshal(OverflowPayload{
		JobID:   jobID,
		LastSeq: lastSeq,
		Message: "subscriber fell behind; reconnect with lastEventId to resume",
	})
	s.overflowEvent = Event{JobID: jobID, Seq: lastSeq, Type: EventOverflow, Data: data, At: time.Now().UTC()}
	s.overflowed.Store(true)
	close(s.ch)
}
