// Package store persists rental records, including their escrow secrets,
// in a single crash-safe JSON snapshot file.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agentlease-backend/internal/domain"
	"agentlease-backend/internal/logger"
)

// RentalStore is a durable map keyed by rental id. Every mutation
// serializes the entire map to a temporary file and atomically renames it
// over the canonical path, so a crash mid-write leaves the previous
// snapshot intact. Mutations are serialized by an internal mutex.
type RentalStore struct {
	mu      sync.Mutex
	path    string
	rentals map[string]*domain.Rental
}

// Open loads the snapshot at path, creating an empty store when the file is
// missing. A corrupt snapshot is logged loudly and treated as empty rather
// than preventing startup; the operator can restore from backup.
func Open(path string) (*RentalStore, error) {
	if path == "" {
		return nil, domain.Validationf("store path must not be empty")
	}
	s := &RentalStore{
		path:    path,
		rentals: make(map[string]*domain.Rental),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logger.Info("No rental snapshot found, starting empty", "path", path)
	case err != nil:
		logger.Error("Failed to read rental snapshot, starting empty", "path", path, "error", err)
	default:
		if err := json.Unmarshal(data, &s.rentals); err != nil {
			logger.Error("Rental snapshot is corrupt, starting empty", "path", path, "error", err)
			s.rentals = make(map[string]*domain.Rental)
		} else {
			logger.Info("Loaded rental snapshot", "path", path, "rentals", len(s.rentals))
		}
	}
	return s, nil
}

// Put inserts or replaces a rental record and persists the snapshot.
func (s *RentalStore) Put(rental *domain.Rental) error {
	if rental == nil || rental.ID == "" {
		return domain.Validationf("rental record must have an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneRental(rental)
	s.rentals[rental.ID] = cp
	return s.persistLocked()
}

// Get returns a copy of the record for id. Callers mutate the copy and
// write it back through Put or Complete.
func (s *RentalStore) Get(id string) (*domain.Rental, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rentals[id]
	if !ok {
		return nil, false
	}
	return cloneRental(r), true
}

// Remove deletes a record and persists the snapshot. Removing an unknown id
// is a no-op.
func (s *RentalStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rentals[id]; !ok {
		return nil
	}
	delete(s.rentals, id)
	return s.persistLocked()
}

// Complete moves a rental to a terminal status and scrubs its escrow secret
// from both the in-memory record and the persisted snapshot.
func (s *RentalStore) Complete(id string, status domain.RentalStatus, endedAt time.Time) error {
	if !status.IsTerminal() {
		return domain.Validationf("status %s is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rentals[id]
	if !ok {
		return domain.Validationf("unknown rental %s", id)
	}
	r.Status = status
	ended := endedAt
	r.EndedAt = &ended
	r.ScrubSecret()
	return s.persistLocked()
}

// ListActive returns copies of all records still in ACTIVE status.
func (s *RentalStore) ListActive() []*domain.Rental {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Rental, 0, len(s.rentals))
	for _, r := range s.rentals {
		if r.Status == domain.RentalStatusActive {
			out = append(out, cloneRental(r))
		}
	}
	return out
}

// List returns copies of every record, active and settled.
func (s *RentalStore) List() []*domain.Rental {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Rental, 0, len(s.rentals))
	for _, r := range s.rentals {
		out = append(out, cloneRental(r))
	}
	return out
}

// Len returns the number of stored records.
func (s *RentalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rentals)
}

func (s *RentalStore) persistLocked() error {
	data, err := json.MarshalIndent(s.rentals, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rental snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".rentals-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

func cloneRental(r *domain.Rental) *domain.Rental {
	cp := *r
	if r.EscrowSecret != nil {
		secret := *r.EscrowSecret
		cp.EscrowSecret = &secret
	}
	if r.EndedAt != nil {
		ended := *r.EndedAt
		cp.EndedAt = &ended
	}
	if r.Constraints.BlockedCapabilities != nil {
		cp.Constraints.BlockedCapabilities = append([]string(nil), r.Constraints.BlockedCapabilities...)
	}
	return &cp
}
