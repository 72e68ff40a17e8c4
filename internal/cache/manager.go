package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bioetl/targetforge/internal/model"
	"github.com/bioetl/targetforge/internal/stash"
)

// Builder produces the raw bytes of an artifact when no valid cached or
// stashed copy exists.
type Builder func() ([]byte, error)

// Outcome reports how GetOrBuild satisfied a request
type Outcome string

const (
	OutcomeCached   Outcome = "cached"   // valid local entry, nothing rebuilt
	OutcomeRestored Outcome = "restored" // materialized from the remote stash
	OutcomeBuilt    Outcome = "built"    // build function invoked
)

// Manager owns the artifact lifecycle: local cache lookup, stash
// restore-before-rebuild, build, and policy-gated remote backup.
type Manager struct {
	store  Cache
	remote stash.Stash
	cfg    model.StashConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now  func() time.Time
	warn func(msg string)
}

// NewManager creates a manager over the given cache and stash. The stash may
// be nil, in which case restore and backup are disabled.
func NewManager(store Cache, remote stash.Stash, cfg model.StashConfig) *Manager {
	return &Manager{
		store:  store,
		remote: remote,
		cfg:    cfg,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// OnWarning registers a sink for recoverable stash conditions (a transient
// restore failure that falls back to a rebuild). The caller typically routes
// these into the run report.
func (m *Manager) OnWarning(fn func(msg string)) {
	m.warn = fn
}

func (m *Manager) warnf(format string, args ...interface{}) {
	if m.warn != nil {
		m.warn(fmt.Sprintf(format, args...))
	}
}

// GetOrBuild returns the artifact stored under fingerprint, restoring or
// building it as needed.
//
// Resolution order: valid local entry (no stash I/O) → stash restore →
// build. force skips both lookups and always rebuilds. Builds for the same
// fingerprint are serialized within the process; a failed build leaves any
// prior valid entry untouched. class selects the backup policy row for the
// artifact.
func (m *Manager) GetOrBuild(ctx context.Context, fingerprint, class string, build Builder, force bool) (*Entry, Outcome, error) {
	lock := m.lockFor(fingerprint)
	lock.Lock()
	defer lock.Unlock()

	if !force {
		if entry, err := m.lookup(fingerprint); err != nil {
			return nil, "", err
		} else if entry != nil {
			return entry, OutcomeCached, nil
		}

		if entry, err := m.restore(ctx, fingerprint, class); err != nil {
			return nil, "", err
		} else if entry != nil {
			return entry, OutcomeRestored, nil
		}
	}

	data, err := build()
	if err != nil {
		// Prior entry, if any, remains valid.
		return nil, "", fmt.Errorf("build %s: %w", class, err)
	}

	entry := &Entry{
		Fingerprint: fingerprint,
		ContentHash: ContentHash(data),
		BuiltAt:     m.now().UTC(),
		Data:        data,
	}
	if err := m.put(entry); err != nil {
		return nil, "", err
	}

	if err := m.Backup(ctx, entry, class); err != nil {
		return nil, "", err
	}

	return entry, OutcomeBuilt, nil
}

// Has reports whether a valid local entry exists for fingerprint
func (m *Manager) Has(fingerprint string) bool {
	entry, err := m.lookup(fingerprint)
	return err == nil && entry != nil
}

// Invalidate removes the local entry for fingerprint
func (m *Manager) Invalidate(fingerprint string) error {
	return m.store.Delete(fingerprint)
}

// lookup decodes and verifies the local entry for fingerprint, if present.
// An undecodable entry is treated as a miss; a hash mismatch halts.
func (m *Manager) lookup(fingerprint string) (*Entry, error) {
	raw, ok := m.store.Get(fingerprint)
	if !ok {
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, nil
	}
	if entry.Fingerprint != fingerprint {
		return nil, fmt.Errorf("entry under %s claims fingerprint %s: %w", fingerprint, entry.Fingerprint, ErrIntegrity)
	}
	if err := entry.Verify(); err != nil {
		return nil, fmt.Errorf("entry %s: %w", fingerprint, err)
	}
	return &entry, nil
}

// restore fetches the stash record for fingerprint and materializes it
// locally. A stash miss is not an error.
func (m *Manager) restore(ctx context.Context, fingerprint, class string) (*Entry, error) {
	if m.remote == nil {
		return nil, nil
	}

	data, meta, err := m.remote.Get(ctx, stashKey(class, fingerprint))
	if err != nil {
		if errors.Is(err, stash.ErrAbsent) {
			return nil, nil
		}
		// Transient stash failure falls through to a rebuild, but is
		// surfaced so the run report records it.
		m.warnf("stash restore %s/%s failed, rebuilding: %v", class, fingerprint, err)
		return nil, nil
	}

	if meta.ContentHash != "" && meta.ContentHash != ContentHash(data) {
		return nil, fmt.Errorf("stash record %s: %w", fingerprint, ErrIntegrity)
	}

	entry := &Entry{
		Fingerprint: fingerprint,
		ContentHash: ContentHash(data),
		BuiltAt:     meta.BuiltAt,
		Data:        data,
	}
	if err := m.put(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Backup pushes an entry to the stash when policy allows and the remote
// copy is not newer.
func (m *Manager) Backup(ctx context.Context, entry *Entry, class string) error {
	if m.remote == nil || !m.cfg.BackupAllowed(class) {
		return nil
	}

	key := stashKey(class, entry.Fingerprint)
	meta, err := m.remote.Head(ctx, key)
	if err == nil && meta.BuiltAt.After(entry.BuiltAt) {
		// Remote copy is newer; never overwrite downward.
		return nil
	}
	if err != nil && !errors.Is(err, stash.ErrAbsent) {
		return fmt.Errorf("stash head %s: %w", entry.Fingerprint, err)
	}

	err = m.remote.Put(ctx, key, entry.Data, stash.Meta{
		BuiltAt:     entry.BuiltAt,
		ContentHash: entry.ContentHash,
	})
	if err != nil {
		return fmt.Errorf("stash backup %s: %w", entry.Fingerprint, err)
	}
	return nil
}

func (m *Manager) put(entry *Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return m.store.Set(entry.Fingerprint, raw)
}

// lockFor returns the per-fingerprint build lock, creating it on first use
func (m *Manager) lockFor(fingerprint string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[fingerprint]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[fingerprint] = lock
	}
	return lock
}

// stashKey namespaces stash records by artifact class
func stashKey(class, fingerprint string) string {
	return class + "/" + fingerprint
}
