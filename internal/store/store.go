// Package store persists the note collection as a single JSON file.
//
// Every mutation rewrites the whole file; there is no per-note storage and
// no journal. The write itself is atomic (tmp file, fsync, rename) so a
// crash never leaves a half-written collection behind.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// CollectionFile is the name of the backing file inside the data directory.
const CollectionFile = "notes.json"

// AttachmentDeleter removes a locally stored attachment by filename.
// Satisfied by *attachments.Manager.
type AttachmentDeleter interface {
	DeleteImage(filename string)
}

// EventKind classifies a store change.
type EventKind string

const (
	EventSaved    EventKind = "saved"
	EventDeleted  EventKind = "deleted"
	EventReloaded EventKind = "reloaded"
)

// Event describes a single store mutation delivered to observers.
type Event struct {
	Kind   EventKind
	NoteID string
}

// Store owns the note collection file.
type Store struct {
	path        string
	attachments AttachmentDeleter
	logger      *slog.Logger
	randInt     func(int) int

	mu sync.Mutex // serializes read-modify-write cycles within this process

	obsMu     sync.Mutex
	observers map[int]func(Event)
	nextObsID int
}

// New creates a store rooted at the given data directory.
func New(dataDir string, att AttachmentDeleter, logger *slog.Logger) *Store {
	return &Store{
		path:        filepath.Join(dataDir, CollectionFile),
		attachments: att,
		logger:      logger,
		randInt:     rand.Intn,
		observers:   map[int]func(Event){},
	}
}

// SetRandInt overrides the random source used by load-time migration.
// Tests use it to make loads deterministic.
func (s *Store) SetRandInt(fn func(int) int) { s.randInt = fn }

// Subscribe registers an observer and returns its unsubscribe function.
// Observers are invoked synchronously after a successful write.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) notify(ev Event) {
	s.obsMu.Lock()
	fns := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// LoadAll reads the collection, migrates legacy records, and returns notes
// sorted by UpdatedAt descending. A missing file yields an empty slice; an
// undecodable file is logged and also yields an empty slice rather than an
// error, so a corrupt collection never takes the application down.
func (s *Store) LoadAll() []models.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() []models.Note {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("store: read collection failed", slog.String("path", s.path), slog.String("error", err.Error()))
		}
		return []models.Note{}
	}

	var notes []models.Note
	if err := json.Unmarshal(data, &notes); err != nil {
		s.logger.Warn("store: decode collection failed", slog.String("path", s.path), slog.String("error", err.Error()))
		return []models.Note{}
	}

	notes = models.Migrate(notes, s.randInt)
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].UpdatedAt.After(notes[j].UpdatedAt.Time)
	})
	return notes
}

// Get returns the note with the given id, or apperr.ErrNotFound.
func (s *Store) Get(id string) (models.Note, error) {
	for _, n := range s.LoadAll() {
		if n.ID == id {
			return n, nil
		}
	}
	return models.Note{}, apperr.ErrNotFound
}

// Save upserts a note: updated in place when the id exists, otherwise
// inserted at the head so fresh notes list most-recent-first even before a
// re-sorted load. The whole file is rewritten and observers are notified
// after a successful write.
func (s *Store) Save(note models.Note) error {
	s.mu.Lock()
	notes := s.loadLocked()
	found := false
	for i := range notes {
		if notes[i].ID == note.ID {
			notes[i] = note
			found = true
			break
		}
	}
	if !found {
		notes = append([]models.Note{note}, notes...)
	}
	err := s.writeLocked(notes)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(Event{Kind: EventSaved, NoteID: note.ID})
	return nil
}

// Delete removes the note with the given id and best-effort deletes its
// image attachments. The note's PDF and remote document are the caller's
// responsibility. A missing id is a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	notes := s.loadLocked()
	idx := -1
	for i := range notes {
		if notes[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	if s.attachments != nil {
		for _, name := range notes[idx].AttachmentFilenames {
			s.attachments.DeleteImage(name)
		}
	}
	notes = append(notes[:idx], notes[idx+1:]...)
	err := s.writeLocked(notes)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(Event{Kind: EventDeleted, NoteID: id})
	return nil
}

// Reload re-reads the collection (after an out-of-band file change) and
// notifies observers.
func (s *Store) Reload() []models.Note {
	notes := s.LoadAll()
	s.notify(Event{Kind: EventReloaded})
	return notes
}

// writeLocked rewrites the collection atomically: tmp file, fsync, rename.
func (s *Store) writeLocked(notes []models.Note) error {
	data, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode collection: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ansuz-notes-*")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("store: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	success = true
	return nil
}

// Path returns the absolute location of the collection file.
func (s *Store) Path() string { return s.path }
