// Package store holds recorded interactions in memory, keyed by
// consumer/provider pair, and writes each contract document through to disk
// after every insertion.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/NikZak/pact-proxy/internal/domain"
	"github.com/NikZak/pact-proxy/internal/pact"
)

// ErrUnknownKey is returned by Persist for a key that has no document.
var ErrUnknownKey = errors.New("unknown interaction key")

// record pairs a document with the index derived from it. Both are only
// touched under Store.mu, so they cannot be observed out of step.
type record struct {
	doc   *pact.Document
	index map[string]int
}

// Store is the in-memory interaction cache backed by one JSON document per
// key in dir.
type Store struct {
	mu      sync.RWMutex
	records map[domain.InteractionKey]*record

	// persistMu orders file writes; it is never held together with a
	// write lock on mu.
	persistMu sync.Mutex

	dir    string
	logger *slog.Logger
}

// KeyStats summarizes one document.
type KeyStats struct {
	Consumer     string `json:"consumer"`
	Provider     string `json:"provider"`
	Interactions int    `json:"interactions"`
}

// New creates an empty store persisting into dir.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records: make(map[domain.InteractionKey]*record),
		dir:     dir,
		logger:  logger,
	}
}

// LoadAll creates dir if needed and loads every regular file in it as a
// contract document. Documents are keyed by their own consumer and provider
// names, not by file name. Any unparsable file fails the whole load.
func LoadAll(dir string, logger *slog.Logger) (*Store, error) {
	s := New(dir, logger)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		// The ReadDir below reports the real problem.
		s.logger.Error("failed to create pacts directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.NewError(domain.ErrorKindStartupLoad, "load", dir, err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.NewError(domain.ErrorKindStartupLoad, "load", path, err)
		}
		doc, err := pact.Parse(data)
		if err != nil {
			return nil, domain.NewError(domain.ErrorKindStartupLoad, "load", path, err)
		}

		key := domain.InteractionKey{Consumer: doc.Consumer.Name, Provider: doc.Provider.Name}
		s.records[key] = &record{doc: doc, index: buildIndex(doc)}

		s.logger.Debug("loaded pact",
			slog.String("path", path),
			slog.String("consumer", key.Consumer),
			slog.String("provider", key.Provider),
			slog.Int("interactions", len(doc.Interactions)))
	}

	s.logger.Info("pacts loaded", slog.String("dir", dir), slog.Int("documents", len(s.records)))
	return s, nil
}

// buildIndex maps each description to its ordinal. A later duplicate wins.
func buildIndex(doc *pact.Document) map[string]int {
	index := make(map[string]int, len(doc.Interactions))
	for i, in := range doc.Interactions {
		index[in.Description] = i
	}
	return index
}

// Dir returns the directory documents are persisted to.
func (s *Store) Dir() string {
	return s.dir
}

// Lookup returns a copy of the response recorded for descriptor under key.
// It reports false both for an unknown key and for a known key without the
// descriptor.
func (s *Store) Lookup(ctx context.Context, key domain.InteractionKey, descriptor string) (*pact.Response, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	pos, ok := rec.index[descriptor]
	if !ok || pos >= len(rec.doc.Interactions) {
		return nil, false
	}
	return rec.doc.Interactions[pos].Response.Clone(), true
}

// Insert records req/resp under key. The document and its index entry are
// created on first use. The interaction is appended and indexed by the
// request path in one critical section; re-inserting a known descriptor
// replaces the interaction at its existing position.
func (s *Store) Insert(ctx context.Context, key domain.InteractionKey, req *pact.Request, resp *pact.Response) error {
	if req == nil || resp == nil {
		return fmt.Errorf("insert %s: request and response are required", key)
	}
	interaction := pact.NewInteraction(req, resp)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = &record{
			doc:   pact.NewDocument(key.Consumer, key.Provider),
			index: make(map[string]int),
		}
		s.records[key] = rec
	}

	if pos, ok := rec.index[interaction.Description]; ok {
		rec.doc.Interactions[pos] = interaction
		return nil
	}

	rec.doc.Interactions = append(rec.doc.Interactions, interaction)
	rec.index[interaction.Description] = len(rec.doc.Interactions) - 1
	return nil
}

// Persist writes the document for key to "{consumer}-{provider}.json" in the
// store directory, replacing any previous file. The document is serialized
// under a read lock; the file is written after the lock is released.
func (s *Store) Persist(ctx context.Context, key domain.InteractionKey) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	rec, ok := s.records[key]
	var data []byte
	var err error
	if ok {
		data, err = pact.Marshal(rec.doc)
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("persist %s: %w", key, ErrUnknownKey)
	}
	if err != nil {
		return domain.NewError(domain.ErrorKindSerialization, "persist", key.String(), err)
	}

	path := filepath.Join(s.dir, key.FileName())
	if err := writeFileAtomic(path, data); err != nil {
		return domain.NewError(domain.ErrorKindStoreIO, "persist", path, err)
	}

	s.logger.Debug("pact saved", slog.String("path", path))
	return nil
}

// writeFileAtomic writes into a hidden temp file next to path and renames it
// over path. LoadAll skips hidden files, so a crash never leaves a partial
// document behind.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Document returns a copy of the document for key.
func (s *Store) Document(key domain.InteractionKey) (*pact.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return rec.doc.Clone(), true
}

// Stats lists every key with its interaction count, sorted by consumer then provider.
func (s *Store) Stats() []KeyStats {
	s.mu.RLock()
	stats := make([]KeyStats, 0, len(s.records))
	for key, rec := range s.records {
		stats = append(stats, KeyStats{
			Consumer:     key.Consumer,
			Provider:     key.Provider,
			Interactions: len(rec.doc.Interactions),
		})
	}
	s.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Consumer != stats[j].Consumer {
			return stats[i].Consumer < stats[j].Consumer
		}
		return stats[i].Provider < stats[j].Provider
	})
	return stats
}

// Len returns the number of documents held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Count returns the number of interactions recorded under key.
func (s *Store) Count(key domain.InteractionKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[key]; ok {
		return len(rec.doc.Interactions)
	}
	return 0
}
