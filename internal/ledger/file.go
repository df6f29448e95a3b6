package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

type fileDoc struct {
	Version     int     `json:"version"`
	DatabaseURL string  `json:"database_url"`
	CSVDir      string  `json:"csv_dir"`
	Finalize    string  `json:"finalize"`
	FinalizeURL string  `json:"finalize_url,omitempty"`
	RunID       string  `json:"run_id,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
	Steps       []Entry `json:"steps"`
}

func (d *fileDoc) target() Target {
	return Target{DatabaseURL: d.DatabaseURL, CSVDir: d.CSVDir, Finalize: d.Finalize, FinalizeURL: d.FinalizeURL}
}

// FileStore keeps the ledger in a JSON document. Every write replaces the
// file atomically through a temporary sibling and a rename.
type FileStore struct {
	path string
	lock *runLock

	mu  sync.Mutex
	doc *fileDoc
	now func() time.Time
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, lock: newRunLock(path), now: time.Now}
}

// Path returns the ledger file location.
func (s *FileStore) Path() string { return s.path }

// Exists implements Store.
func (s *FileStore) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, eris.Wrapf(err, "ledger: stat %s", s.path)
}

// Init implements Store.
func (s *FileStore) Init(_ context.Context, target Target, runID string, steps []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.acquire(); err != nil {
		return err
	}
	now := s.now().UTC()
	doc := &fileDoc{
		Version:     Version,
		DatabaseURL: target.DatabaseURL,
		CSVDir:      target.CSVDir,
		Finalize:    target.Finalize,
		FinalizeURL: target.FinalizeURL,
		RunID:       runID,
		CreatedAt:   now.Format(time.RFC3339),
		Steps:       make([]Entry, 0, len(steps)),
	}
	for _, name := range steps {
		doc.Steps = append(doc.Steps, Entry{Step: name, Status: StatusPending, UpdatedAt: now})
	}
	if err := s.write(doc); err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// Resume implements Store.
func (s *FileStore) Resume(_ context.Context, target Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.acquire(); err != nil {
		return err
	}
	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := checkTarget(doc.target(), target); err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// Meta implements Store.
func (s *FileStore) Meta(_ context.Context) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loaded()
	if err != nil {
		return Meta{}, err
	}
	m := Meta{
		Version: doc.Version,
		Target:  doc.target(),
		RunID:   doc.RunID,
	}
	if doc.CreatedAt != "" {
		m.CreatedAt, _ = time.Parse(time.RFC3339, doc.CreatedAt)
	}
	return m, nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, step string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loaded()
	if err != nil {
		return Entry{}, err
	}
	i := find(doc.Steps, step)
	if i < 0 {
		return Entry{}, eris.Wrapf(ErrUnknownStep, "ledger: %s", step)
	}
	return doc.Steps[i], nil
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, step string, status Status, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loaded()
	if err != nil {
		return err
	}
	i := find(doc.Steps, step)
	if i < 0 {
		return eris.Wrapf(ErrUnknownStep, "ledger: %s", step)
	}
	if err := transition(step, doc.Steps[i].Status, status); err != nil {
		return err
	}
	next := cloneDoc(doc)
	next.Steps[i] = Entry{Step: step, Status: status, UpdatedAt: s.now().UTC()}
	if status == StatusFailed {
		next.Steps[i].Error = detail
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// List implements Store.
func (s *FileStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loaded()
	if err != nil {
		return nil, err
	}
	return append([]Entry(nil), doc.Steps...), nil
}

// Reset implements Store.
func (s *FileStore) Reset(_ context.Context, steps ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.acquire(); err != nil {
		return err
	}
	doc, err := s.loaded()
	if err != nil {
		return err
	}
	next := cloneDoc(doc)
	now := s.now().UTC()
	for _, step := range steps {
		i := find(next.Steps, step)
		if i < 0 {
			return eris.Wrapf(ErrUnknownStep, "ledger: %s", step)
		}
		next.Steps[i] = Entry{Step: step, Status: StatusPending, UpdatedAt: now}
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// Close releases the run lock.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.release()
}

func (s *FileStore) loaded() (*fileDoc, error) {
	if s.doc != nil {
		return s.doc, nil
	}
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return doc, nil
}

func (s *FileStore) read() (*fileDoc, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotInitialized, "ledger: %s", s.path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: read %s", s.path)
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "ledger: decode %s", s.path)
	}
	if doc.Version != Version {
		return nil, eris.Wrapf(ErrVersion, "ledger: %s has version %d, want %d", s.path, doc.Version, Version)
	}
	for _, e := range doc.Steps {
		if !e.Status.Valid() {
			return nil, eris.Errorf("ledger: %s has invalid status %q for %s", s.path, e.Status, e.Step)
		}
	}
	return &doc, nil
}

func (s *FileStore) write(doc *fileDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "ledger: encode")
	}
	data = append(data, '\n')

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "ledger: mkdir %s", dir)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "ledger: write %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "ledger: rename %s", tmp)
	}
	return nil
}

func cloneDoc(doc *fileDoc) *fileDoc {
	c := *doc
	c.Steps = append([]Entry(nil), doc.Steps...)
	return &c
}

func find(entries []Entry, step string) int {
	for i, e := range entries {
		if e.Step == step {
			return i
		}
	}
	return -1
}
