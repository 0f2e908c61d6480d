// Package memory provides an in-process object store for dev and test runs
// without a MinIO endpoint. The URLs it mints are opaque and not resolvable
// over HTTP.
package memory

import (
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/bulk-download-service/internal/domain"
	"github.com/fairyhunter13/bulk-download-service/pkg/clock"
)

type object struct {
	body        []byte
	contentType string
	storedAt    time.Time
}

// Store implements domain.ObjectStore in process memory.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
	clk     clock.Clock
}

// New constructs an empty Store.
func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{objects: make(map[string]object), clk: clk}
}

// PutDescriptor stores a copy of body under key.
func (s *Store) PutDescriptor(_ domain.Context, key string, body []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("op=storage.put_descriptor: %w: empty key", domain.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{
		body:        append([]byte(nil), body...),
		contentType: contentType,
		storedAt:    s.clk.Now(),
	}
	return nil
}

// PresignGet mints an opaque URL for a stored object. Unlike a real signer it
// requires the object to exist, which catches staging bugs early in tests.
func (s *Store) PresignGet(_ domain.Context, key string, ttl time.Duration) (string, time.Time, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", time.Time{}, fmt.Errorf("op=storage.presign_get: %w: object %q", domain.ErrNotFound, key)
	}
	expiresAt := s.clk.Now().Add(ttl)
	u := url.URL{
		Scheme: "memory",
		Host:   "artifacts",
		Path:   "/" + key,
		RawQuery: url.Values{
			"expires": []string{strconv.FormatInt(expiresAt.Unix(), 10)},
			"token":   []string{uuid.NewString()},
		}.Encode(),
	}
	return u.String(), expiresAt, nil
}

// HealthCheck always reports healthy.
func (s *Store) HealthCheck(domain.Context) error { return nil }

// Object returns the stored body and content type for key.
func (s *Store) Object(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), o.body...), o.contentType, true
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
