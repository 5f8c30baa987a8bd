// Package history implements the update-attempt history store (C10): one
// durable record per update attempt, persisted via bitcask and keyed by
// plan ID, serialized with encoding/json.
package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prologic/bitcask"
)

// Outcome is the terminal result of one update attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "Success"
	OutcomeError     Outcome = "Error"
	OutcomeCancelled Outcome = "Cancelled"
)

// Record is one persisted update-attempt entry.
type Record struct {
	PlanID      string    `json:"plan_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Outcome     Outcome   `json:"outcome"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	BytesWritten uint64   `json:"bytes_written"`
}

// Store is a durable, append-style history of update attempts: a single
// bitcask database protected by one mutex, entries serialized on the way
// in and out.
type Store struct {
	bc *bitcask.Bitcask
	mu sync.Mutex
}

// Open opens (creating if necessary) a history store at path.
func Open(path string) (*Store, error) {
	bc, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening history store at %s: %w", path, err)
	}
	return &Store{bc: bc}, nil
}

// Put persists r, keyed by its PlanID.
func (s *Store) Put(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling history record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.bc.Put([]byte(r.PlanID), data); err != nil {
		return fmt.Errorf("storing history record %s: %w", r.PlanID, err)
	}
	return nil
}

// Get retrieves the record stored under planID.
func (s *Store) Get(planID string) (Record, error) {
	s.mu.Lock()
	data, err := s.bc.Get([]byte(planID))
	s.mu.Unlock()
	if err != nil {
		return Record{}, fmt.Errorf("retrieving history record %s: %w", planID, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("unmarshaling history record %s: %w", planID, err)
	}
	return r, nil
}

// Latest returns the most recently finished record. Returns (Record{},
// false) if the store is empty.
func (s *Store) Latest() (Record, bool) {
	s.mu.Lock()
	keys := make([][]byte, 0)
	for k := range s.bc.Keys() {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	if len(keys) == 0 {
		return Record{}, false
	}

	var records []Record
	for _, k := range keys {
		s.mu.Lock()
		data, err := s.bc.Get(k)
		s.mu.Unlock()
		if err != nil {
			continue
		}
		var r Record
		if err := json.Unmarshal(data, &r); err == nil {
			records = append(records, r)
		}
	}
	if len(records) == 0 {
		return Record{}, false
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].FinishedAt.After(records[j].FinishedAt)
	})
	return records[0], true
}

// Close releases the underlying bitcask database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bc.Close()
}
