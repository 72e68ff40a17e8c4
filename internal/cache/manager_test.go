package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bioetl/targetforge/internal/model"
	"github.com/bioetl/targetforge/internal/stash"
)

// countingStash wraps the in-memory stash and counts restore reads
type countingStash struct {
	*stash.Memory
	gets int32
}

func (c *countingStash) Get(ctx context.Context, key string) ([]byte, stash.Meta, error) {
	atomic.AddInt32(&c.gets, 1)
	return c.Memory.Get(ctx, key)
}

func newTestManager(t *testing.T, cfg model.StashConfig) (*Manager, *countingStash) {
	t.Helper()
	remote := &countingStash{Memory: stash.NewMemory()}
	m := NewManager(NewDiskCache(t.TempDir()), remote, cfg)
	return m, remote
}

func backupAll() model.StashConfig {
	return model.StashConfig{Backup: true}
}

func TestManager_BuildThenCache(t *testing.T) {
	m, remote := newTestManager(t, backupAll())
	fp := Fingerprint("test", "build-then-cache")

	var builds int32
	build := func() ([]byte, error) {
		atomic.AddInt32(&builds, 1)
		return []byte("payload"), nil
	}

	entry, outcome, err := m.GetOrBuild(context.Background(), fp, "sequence-db", build, false)
	if err != nil {
		t.Fatalf("GetOrBuild: %v", err)
	}
	if outcome != OutcomeBuilt {
		t.Errorf("expected built outcome, got %s", outcome)
	}
	if string(entry.Data) != "payload" {
		t.Errorf("unexpected entry data: %q", entry.Data)
	}
	if remote.Len() != 1 {
		t.Errorf("expected 1 stash record after build, got %d", remote.Len())
	}

	// Second call must hit the local entry without touching the stash
	remote.gets = 0
	entry, outcome, err = m.GetOrBuild(context.Background(), fp, "sequence-db", build, false)
	if err != nil {
		t.Fatalf("GetOrBuild (cached): %v", err)
	}
	if outcome != OutcomeCached {
		t.Errorf("expected cached outcome, got %s", outcome)
	}
	if string(entry.Data) != "payload" {
		t.Errorf("unexpected cached data: %q", entry.Data)
	}
	if atomic.LoadInt32(&builds) != 1 {
		t.Errorf("expected 1 build, got %d", builds)
	}
	if atomic.LoadInt32(&remote.gets) != 0 {
		t.Errorf("local hit performed %d stash reads", remote.gets)
	}
}

func TestManager_RestoreFromStash(t *testing.T) {
	m, remote := newTestManager(t, backupAll())
	fp := Fingerprint("test", "restore")
	data := []byte("stashed payload")

	err := remote.Put(context.Background(), "sequence-db/"+fp, data, stash.Meta{
		BuiltAt:     time.Now().UTC(),
		ContentHash: ContentHash(data),
	})
	if err != nil {
		t.Fatalf("seed stash: %v", err)
	}

	build := func() ([]byte, error) {
		t.Fatal("builder invoked despite stash record")
		return nil, nil
	}

	entry, outcome, err := m.GetOrBuild(context.Background(), fp, "sequence-db", build, false)
	if err != nil {
		t.Fatalf("GetOrBuild: %v", err)
	}
	if outcome != OutcomeRestored {
		t.Errorf("expected restored outcome, got %s", outcome)
	}
	if string(entry.Data) != string(data) {
		t.Errorf("restored data mismatch: %q", entry.Data)
	}
	if !m.Has(fp) {
		t.Error("restored entry not materialized locally")
	}
}

func TestManager_FailedBuildPreservesEntry(t *testing.T) {
	m, _ := newTestManager(t, backupAll())
	fp := Fingerprint("test", "preserve")

	_, _, err := m.GetOrBuild(context.Background(), fp, "sequence-db", func() ([]byte, error) {
		return []byte("good"), nil
	}, false)
	if err != nil {
		t.Fatalf("initial build: %v", err)
	}

	boom := errors.New("builder exploded")
	_, _, err = m.GetOrBuild(context.Background(), fp, "sequence-db", func() ([]byte, error) {
		return nil, boom
	}, true)
	if !errors.Is(err, boom) {
		t.Fatalf("expected builder error, got %v", err)
	}

	// The prior valid entry must survive the failed rebuild
	entry, outcome, err := m.GetOrBuild(context.Background(), fp, "sequence-db", func() ([]byte, error) {
		t.Fatal("builder invoked despite surviving entry")
		return nil, nil
	}, false)
	if err != nil {
		t.Fatalf("GetOrBuild after failure: %v", err)
	}
	if outcome != OutcomeCached {
		t.Errorf("expected cached outcome, got %s", outcome)
	}
	if string(entry.Data) != "good" {
		t.Errorf("prior entry clobbered: %q", entry.Data)
	}
}

func TestManager_ForceRebuilds(t *testing.T) {
	m, _ := newTestManager(t, backupAll())
	fp := Fingerprint("test", "force")

	var builds int32
	build := func() ([]byte, error) {
		n := atomic.AddInt32(&builds, 1)
		return []byte(fmt.Sprintf("build-%d", n)), nil
	}

	if _, _, err := m.GetOrBuild(context.Background(), fp, "sequence-db", build, false); err != nil {
		t.Fatalf("first build: %v", err)
	}
	entry, outcome, err := m.GetOrBuild(context.Background(), fp, "sequence-db", build, true)
	if err != nil {
		t.Fatalf("forced build: %v", err)
	}
	if outcome != OutcomeBuilt {
		t.Errorf("expected built outcome under force, got %s", outcome)
	}
	if string(entry.Data) != "build-2" {
		t.Errorf("force did not rebuild: %q", entry.Data)
	}
}

func TestManager_NoBackupClass(t *testing.T) {
	m, remote := newTestManager(t, model.StashConfig{
		Backup:          true,
		NoBackupClasses: []string{"taxonomy"},
	})
	fp := Fingerprint("taxonomy", "mapping")

	_, _, err := m.GetOrBuild(context.Background(), fp, "taxonomy", func() ([]byte, error) {
		return []byte("taxa"), nil
	}, false)
	if err != nil {
		t.Fatalf("GetOrBuild: %v", err)
	}
	if remote.Len() != 0 {
		t.Errorf("excluded class was backed up: %d stash records", remote.Len())
	}
}

// flakyStash fails every Get with a non-absent error
type flakyStash struct {
	*stash.Memory
}

func (f *flakyStash) Get(ctx context.Context, key string) ([]byte, stash.Meta, error) {
	return nil, stash.Meta{}, errors.New("connection reset by peer")
}

func TestManager_StashRestoreFailureWarnsAndRebuilds(t *testing.T) {
	remote := &flakyStash{Memory: stash.NewMemory()}
	m := NewManager(NewDiskCache(t.TempDir()), remote, backupAll())

	var warnings []string
	m.OnWarning(func(msg string) { warnings = append(warnings, msg) })

	fp := Fingerprint("test", "flaky-restore")
	entry, outcome, err := m.GetOrBuild(context.Background(), fp, "sequence-db", func() ([]byte, error) {
		return []byte("rebuilt"), nil
	}, false)
	if err != nil {
		t.Fatalf("GetOrBuild: %v", err)
	}
	if outcome != OutcomeBuilt {
		t.Errorf("expected built outcome after restore failure, got %s", outcome)
	}
	if string(entry.Data) != "rebuilt" {
		t.Errorf("unexpected entry data: %q", entry.Data)
	}

	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning for the failed restore, got %d", len(warnings))
	}
	if !strings.Contains(warnings[0], "connection reset by peer") {
		t.Errorf("warning does not carry the stash error: %q", warnings[0])
	}
	if !strings.Contains(warnings[0], "sequence-db") {
		t.Errorf("warning does not name the artifact class: %q", warnings[0])
	}
}

func TestManager_StashIntegrityMismatch(t *testing.T) {
	m, remote := newTestManager(t, backupAll())
	fp := Fingerprint("test", "integrity")

	err := remote.Put(context.Background(), "sequence-db/"+fp, []byte("actual"), stash.Meta{
		BuiltAt:     time.Now().UTC(),
		ContentHash: ContentHash([]byte("recorded for something else")),
	})
	if err != nil {
		t.Fatalf("seed stash: %v", err)
	}

	_, _, err = m.GetOrBuild(context.Background(), fp, "sequence-db", func() ([]byte, error) {
		return []byte("fresh"), nil
	}, false)
	if !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
}

func TestManager_BackupNeverOverwritesNewer(t *testing.T) {
	m, remote := newTestManager(t, backupAll())
	fp := Fingerprint("test", "newer-remote")
	key := "sequence-db/" + fp

	newer := []byte("newer remote copy")
	err := remote.Put(context.Background(), key, newer, stash.Meta{
		BuiltAt:     time.Now().UTC().Add(time.Hour),
		ContentHash: ContentHash(newer),
	})
	if err != nil {
		t.Fatalf("seed stash: %v", err)
	}

	entry := &Entry{
		Fingerprint: fp,
		ContentHash: ContentHash([]byte("older local copy")),
		BuiltAt:     time.Now().UTC(),
		Data:        []byte("older local copy"),
	}
	if err := m.Backup(context.Background(), entry, "sequence-db"); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	data, _, err := remote.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("stash get: %v", err)
	}
	if string(data) != string(newer) {
		t.Errorf("backup overwrote a newer remote copy: %q", data)
	}
}

func TestManager_ConcurrentBuildsOnce(t *testing.T) {
	m, _ := newTestManager(t, backupAll())
	fp := Fingerprint("test", "concurrent")

	var builds int32
	build := func() ([]byte, error) {
		atomic.AddInt32(&builds, 1)
		time.Sleep(10 * time.Millisecond)
		return []byte("shared"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := m.GetOrBuild(context.Background(), fp, "sequence-db", build, false); err != nil {
				t.Errorf("GetOrBuild: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Errorf("expected exactly 1 build across concurrent callers, got %d", got)
	}
}
