package transcript

import (
	"slices"
	"sync"
)

// Sequencer commits transcription results in per-speaker capture order.
//
// Snippets of one speaker are numbered 1, 2, 3, ... by the capture layer.
// Their transcriptions may finish in any order; Commit holds back a result
// until every lower-numbered result of the same speaker has been committed.
// Speakers are independent of each other.
type Sequencer struct {
	emit func(Record)

	mu   sync.Mutex
	next map[string]uint64
	held map[string]map[uint64]*Record
}

// NewSequencer returns a Sequencer that passes records to emit in order.
// emit is called with the sequencer's lock held and must not call back into
// it.
func NewSequencer(emit func(Record)) *Sequencer {
	return &Sequencer{
		emit: emit,
		next: make(map[string]uint64),
		held: make(map[string]map[uint64]*Record),
	}
}

// Commit hands over the result for snippet seq of speakerID. A nil rec
// advances the sequence without emitting anything (e.g. a snippet that
// produced no text). Sequence numbers below the next expected value are
// ignored.
func (s *Sequencer) Commit(speakerID string, seq uint64, rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.next[speakerID]
	if next == 0 {
		next = 1
	}
	if seq < next {
		return
	}

	held := s.held[speakerID]
	if held == nil {
		held = make(map[uint64]*Record)
		s.held[speakerID] = held
	}
	held[seq] = rec

	for {
		r, ok := held[next]
		if !ok {
			break
		}
		delete(held, next)
		if r != nil {
			s.emit(*r)
		}
		next++
	}
	s.next[speakerID] = next
	if len(held) == 0 {
		delete(s.held, speakerID)
	}
}

// Pending returns the number of results held back waiting for an earlier
// snippet of the same speaker.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.held {
		n += len(h)
	}
	return n
}

// Flush emits every held-back record in sequence order, skipping gaps. It is
// used at teardown, after which no earlier result can still arrive.
func (s *Sequencer) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for speakerID, held := range s.held {
		seqs := make([]uint64, 0, len(held))
		for seq := range held {
			seqs = append(seqs, seq)
		}
		slices.Sort(seqs)
		for _, seq := range seqs {
			if r := held[seq]; r != nil {
				s.emit(*r)
			}
		}
		s.next[speakerID] = seqs[len(seqs)-1] + 1
		delete(s.held, speakerID)
	}
}
