package eviction_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/lucasew/audiocache/internal/eviction"
	"github.com/lucasew/audiocache/internal/eviction/oldest"
	"github.com/lucasew/audiocache/internal/eviction/policy"
	"github.com/lucasew/audiocache/internal/repository"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createFile writes a file whose modification time is epoch + ts seconds.
func createFile(t *testing.T, dir, name string, ts int, size int64) {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	f.Close()
	mtime := epoch.Add(time.Duration(ts) * time.Second)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func newManager(dir string, retain int, store eviction.Store) *eviction.Manager {
	vol := eviction.Volume{Path: dir, MinFreeBytes: 0, RetainCount: retain}
	if store == nil {
		store = repository.NewLocalRepository(dir)
	}
	return eviction.NewManager(vol, store, oldest.New(), 0)
}

func TestEnforceRetention(t *testing.T) {
	t.Run("Keeps Newest", func(t *testing.T) {
		dir := t.TempDir()
		for i := 1; i <= 52; i++ {
			createFile(t, dir, fmt.Sprintf("track-%02d.mp3", i), i, 10)
		}

		mgr := newManager(dir, 50, nil)
		result, err := mgr.EnforceRetention(context.Background())
		if err != nil {
			t.Fatalf("EnforceRetention failed: %v", err)
		}

		if result.Deleted != 2 || result.Failed != 0 || result.SkippedAlreadyGone != 0 {
			t.Errorf("expected deleted=2 failed=0 gone=0, got %+v", result)
		}
		if result.Scanned != 52 {
			t.Errorf("expected 52 scanned, got %d", result.Scanned)
		}
		if result.FreedBytes != 20 {
			t.Errorf("expected 20 bytes freed, got %d", result.FreedBytes)
		}
		if len(result.Removed) != 2 || result.Removed[0].Name != "track-01.mp3" || result.Removed[1].Name != "track-02.mp3" {
			t.Errorf("expected track-01 and track-02 removed in order, got %+v", result.Removed)
		}
		if result.ID == "" {
			t.Error("expected a pass id")
		}

		left := remaining(t, dir)
		if len(left) != 50 {
			t.Fatalf("expected 50 files remaining, got %d", len(left))
		}
		if left[0] != "track-03.mp3" {
			t.Errorf("expected oldest survivor track-03.mp3, got %s", left[0])
		}
	})

	t.Run("Under Retain Count", func(t *testing.T) {
		dir := t.TempDir()
		for i := 1; i <= 3; i++ {
			createFile(t, dir, fmt.Sprintf("f%d", i), i, 1)
		}

		result, err := newManager(dir, 3, nil).EnforceRetention(context.Background())
		if err != nil {
			t.Fatalf("EnforceRetention failed: %v", err)
		}
		if result.Deleted != 0 {
			t.Errorf("expected nothing deleted, got %d", result.Deleted)
		}
		if len(remaining(t, dir)) != 3 {
			t.Error("files were removed below the retain count")
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		dir := t.TempDir()
		for i := 1; i <= 10; i++ {
			createFile(t, dir, fmt.Sprintf("f%02d", i), i, 1)
		}
		mgr := newManager(dir, 4, nil)

		first, err := mgr.EnforceRetention(context.Background())
		if err != nil {
			t.Fatalf("first pass failed: %v", err)
		}
		second, err := mgr.EnforceRetention(context.Background())
		if err != nil {
			t.Fatalf("second pass failed: %v", err)
		}
		if first.Deleted != 6 {
			t.Errorf("expected 6 deletions on first pass, got %d", first.Deleted)
		}
		if second.Deleted != 0 || second.Failed != 0 || second.SkippedAlreadyGone != 0 {
			t.Errorf("expected a no-op second pass, got %+v", second)
		}
		if first.ID == second.ID {
			t.Error("passes share a result id")
		}
	})

	t.Run("Ties Broken By Name", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"c", "a", "b", "d"} {
			createFile(t, dir, name, 1, 1)
		}

		if _, err := newManager(dir, 2, nil).EnforceRetention(context.Background()); err != nil {
			t.Fatalf("EnforceRetention failed: %v", err)
		}
		if left := remaining(t, dir); fmt.Sprint(left) != "[c d]" {
			t.Errorf("expected [c d] to survive, got %v", left)
		}
	})

	t.Run("Subdirectories Untouched", func(t *testing.T) {
		dir := t.TempDir()
		createFile(t, dir, "old", 1, 1)
		createFile(t, dir, "new", 2, 1)
		if err := os.Mkdir(filepath.Join(dir, "archive"), 0755); err != nil {
			t.Fatal(err)
		}
		createFile(t, filepath.Join(dir, "archive"), "ancient", 0, 1)

		result, err := newManager(dir, 1, nil).EnforceRetention(context.Background())
		if err != nil {
			t.Fatalf("EnforceRetention failed: %v", err)
		}
		if result.Deleted != 1 || result.Failed != 0 {
			t.Errorf("expected deleted=1 failed=0, got %+v", result)
		}
		if _, err := os.Stat(filepath.Join(dir, "archive", "ancient")); err != nil {
			t.Errorf("subdirectory content was touched: %v", err)
		}
		if left := remaining(t, dir); fmt.Sprint(left) != "[new]" {
			t.Errorf("expected [new], got %v", left)
		}
	})


	t.Run("Directory Symlink Untouched", func(t *testing.T) {
		dir := t.TempDir()
		target := t.TempDir()
		createFile(t, target, "outside", 0, 1)
		createFile(t, dir, "a", 1, 1)
		createFile(t, dir, "b", 2, 1)
		createFile(t, dir, "c", 3, 1)
		link := filepath.Join(dir, "zlinkdir")
		if err := os.Symlink(target, link); err != nil {
			if runtime.GOOS == "windows" {
				t.Skipf("symlinks unavailable: %v", err)
			}
			t.Fatalf("symlink failed: %v", err)
		}

		result, err := newManager(dir, 1, nil).EnforceRetention(context.Background())
		if err != nil {
			t.Fatalf("EnforceRetention failed: %v", err)
		}
		if result.Scanned != 3 || result.Deleted != 2 || result.Failed != 0 || result.SkippedAlreadyGone != 0 {
			t.Errorf("expected scanned=3 deleted=2 failed=0 gone=0, got %+v", result)
		}
		info, err := os.Lstat(link)
		if err != nil {
			t.Fatalf("directory symlink was removed: %v", err)
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			t.Errorf("expected %s to stay a symlink, got mode %v", link, info.Mode())
		}
		if _, err := os.Stat(filepath.Join(target, "outside")); err != nil {
			t.Errorf("symlink target content was touched: %v", err)
		}
		if left := remaining(t, dir); fmt.Sprint(left) != "[c]" {
			t.Errorf("expected [c], got %v", left)
		}
	})

	t.Run("Enumeration Failure", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "missing")
		_, err := newManager(dir, 1, nil).EnforceRetention(context.Background())
		if !errors.Is(err, eviction.ErrEnumeration) {
			t.Fatalf("expected ErrEnumeration, got %v", err)
		}
		var ee *eviction.EnumerationError
		if !errors.As(err, &ee) || ee.Path != dir {
			t.Errorf("expected EnumerationError for %s, got %v", dir, err)
		}
	})
}

// racingStore removes some files behind the manager's back right before it
// gets to delete them, and fails others.
type racingStore struct {
	*repository.LocalRepository
	vanish map[string]bool
	deny   map[string]bool
	calls  []string
}

func (s *racingStore) Remove(name string) error {
	s.calls = append(s.calls, name)
	if s.vanish[name] {
		_ = os.Remove(filepath.Join(s.Dir, name))
	}
	if s.deny[name] {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrPermission}
	}
	return s.LocalRepository.Remove(name)
}

func TestEnforceRetention_PartialFailures(t *testing.T) {
	t.Run("Already Gone", func(t *testing.T) {
		dir := t.TempDir()
		for i := 1; i <= 4; i++ {
			createFile(t, dir, fmt.Sprintf("f%d", i), i, 1)
		}
		store := &racingStore{
			LocalRepository: repository.NewLocalRepository(dir),
			vanish:          map[string]bool{"f1": true},
		}

		result, err := newManager(dir, 2, store).EnforceRetention(context.Background())
		if err != nil {
			t.Fatalf("EnforceRetention failed: %v", err)
		}
		if result.Deleted != 1 || result.SkippedAlreadyGone != 1 || result.Failed != 0 {
			t.Errorf("expected deleted=1 gone=1 failed=0, got %+v", result)
		}
		if len(result.Failures) != 0 {
			t.Errorf("already gone must not be reported as a failure: %v", result.Failures)
		}
	})

	t.Run("Failure Does Not Abort", func(t *testing.T) {
		dir := t.TempDir()
		for i := 1; i <= 5; i++ {
			createFile(t, dir, fmt.Sprintf("f%d", i), i, 1)
		}
		store := &racingStore{
			LocalRepository: repository.NewLocalRepository(dir),
			deny:            map[string]bool{"f1": true},
		}

		result, err := newManager(dir, 2, store).EnforceRetention(context.Background())
		if err != nil {
			t.Fatalf("EnforceRetention failed: %v", err)
		}
		if result.Deleted != 2 || result.Failed != 1 {
			t.Errorf("expected deleted=2 failed=1, got %+v", result)
		}
		if fmt.Sprint(store.calls) != "[f1 f2 f3]" {
			t.Errorf("expected oldest-first deletion order, got %v", store.calls)
		}
		if len(result.Failures) != 1 {
			t.Fatalf("expected one failure, got %v", result.Failures)
		}
		failure := result.Failures[0]
		if failure.Path != filepath.Join(dir, "f1") {
			t.Errorf("unexpected failure path %s", failure.Path)
		}
		if !errors.Is(failure, fs.ErrPermission) {
			t.Errorf("expected permission cause, got %v", failure.Err)
		}
	})
}

func TestEnforceRetention_Serialized(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 20; i++ {
		createFile(t, dir, fmt.Sprintf("f%02d", i), i, 1)
	}

	// Two managers over the same directory must not double-delete.
	managers := []*eviction.Manager{newManager(dir, 5, nil), newManager(dir, 5, nil)}
	results := make([]*eviction.Result, len(managers))

	var wg sync.WaitGroup
	for i, mgr := range managers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := mgr.EnforceRetention(context.Background())
			if err != nil {
				t.Errorf("EnforceRetention failed: %v", err)
				return
			}
			results[i] = r
		}()
	}
	wg.Wait()

	var deleted, gone int
	for _, r := range results {
		if r == nil {
			t.FailNow()
		}
		deleted += r.Deleted
		gone += r.SkippedAlreadyGone
	}
	if deleted != 15 || gone != 0 {
		t.Errorf("expected 15 deletions and no overlap, got deleted=%d gone=%d", deleted, gone)
	}
	if n := len(remaining(t, dir)); n != 5 {
		t.Errorf("expected 5 survivors, got %d", n)
	}
}

type fakePolicy struct {
	decision policy.Decision
	err      error
}

func (p *fakePolicy) Check() (policy.Decision, error) { return p.decision, p.err }

type recordingObserver struct {
	results []*eviction.Result
}

func (o *recordingObserver) EvictionCompleted(ctx context.Context, r *eviction.Result) error {
	o.results = append(o.results, r)
	return nil
}

func TestRunOnce(t *testing.T) {
	const gib = 1 << 30

	setup := func(t *testing.T) (string, *eviction.Manager, *recordingObserver) {
		dir := t.TempDir()
		for i := 1; i <= 5; i++ {
			createFile(t, dir, fmt.Sprintf("f%d", i), i, 1)
		}
		mgr := newManager(dir, 3, nil)
		obs := &recordingObserver{}
		mgr.AddObserver(obs)
		return dir, mgr, obs
	}

	t.Run("No Action Needed", func(t *testing.T) {
		dir, mgr, obs := setup(t)
		mgr.SetPolicies(&fakePolicy{decision: policy.Decision{FreeBytes: 31 * gib, Threshold: 30 * gib}})

		report, err := mgr.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		if report.Result != nil {
			t.Errorf("expected no eviction, got %+v", report.Result)
		}
		if len(obs.results) != 0 {
			t.Error("observer notified without a pass")
		}
		if len(remaining(t, dir)) != 5 {
			t.Error("files removed although capacity was fine")
		}
	})

	t.Run("Evicts When Short", func(t *testing.T) {
		dir, mgr, obs := setup(t)
		mgr.SetPolicies(&fakePolicy{decision: policy.Decision{MustEvict: true, FreeBytes: 29 * gib, Threshold: 30 * gib, Reason: "low"}})

		report, err := mgr.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		if report.Result == nil || report.Result.Deleted != 2 {
			t.Fatalf("expected 2 deletions, got %+v", report.Result)
		}
		if len(obs.results) != 1 || obs.results[0] != report.Result {
			t.Error("observer not notified with the pass result")
		}
		if left := remaining(t, dir); fmt.Sprint(left) != "[f3 f4 f5]" {
			t.Errorf("expected [f3 f4 f5], got %v", left)
		}
	})

	t.Run("Any Policy Triggers", func(t *testing.T) {
		_, mgr, _ := setup(t)
		mgr.SetPolicies(
			&fakePolicy{decision: policy.Decision{FreeBytes: 50 * gib}},
			&fakePolicy{decision: policy.Decision{MustEvict: true, Reason: "too big"}},
		)

		d, err := mgr.CheckCapacity()
		if err != nil {
			t.Fatalf("CheckCapacity failed: %v", err)
		}
		if !d.MustEvict || d.Reason != "too big" {
			t.Errorf("expected the second policy to win, got %+v", d)
		}
	})

	t.Run("Storage Unavailable", func(t *testing.T) {
		dir, mgr, _ := setup(t)
		mgr.SetPolicies(&fakePolicy{err: &policy.StorageUnavailableError{Path: dir, Err: fs.ErrNotExist}})

		report, err := mgr.RunOnce(context.Background())
		if !errors.Is(err, policy.ErrStorageUnavailable) {
			t.Fatalf("expected ErrStorageUnavailable, got %v", err)
		}
		if report != nil {
			t.Errorf("expected no report on failure, got %+v", report)
		}
		if len(remaining(t, dir)) != 5 {
			t.Error("files removed although the check failed")
		}
	})

	t.Run("Max Size Policy", func(t *testing.T) {
		dir := t.TempDir()
		for i := 1; i <= 4; i++ {
			createFile(t, dir, fmt.Sprintf("f%d", i), i, 100)
		}
		vol := eviction.Volume{Path: dir, MinFreeBytes: 0, RetainCount: 2, MaxBytes: 250}
		mgr := eviction.NewManager(vol, repository.NewLocalRepository(dir), oldest.New(), 0)

		report, err := mgr.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		if report.Result == nil || report.Result.Deleted != 2 {
			t.Fatalf("expected the size cap to trigger 2 deletions, got %+v", report)
		}
	})
}

func TestCheckCapacity(t *testing.T) {
	dir := t.TempDir()

	d, err := eviction.CheckCapacity(eviction.Volume{Path: dir, MinFreeBytes: 0, RetainCount: 1})
	if err != nil {
		t.Fatalf("CheckCapacity failed: %v", err)
	}
	if d.MustEvict {
		t.Error("a zero threshold can never require eviction")
	}

	d, err = eviction.CheckCapacity(eviction.Volume{Path: dir, MinFreeBytes: 1 << 62, RetainCount: 1})
	if err != nil {
		t.Fatalf("CheckCapacity failed: %v", err)
	}
	if !d.MustEvict {
		t.Error("an unreachable threshold must require eviction")
	}

	_, err = eviction.CheckCapacity(eviction.Volume{Path: filepath.Join(dir, "missing"), MinFreeBytes: 1})
	if !errors.Is(err, policy.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}

	mgr := newManager(dir, 1, nil)
	mgr.SetPolicies()
	if _, err := mgr.CheckCapacity(); !errors.Is(err, eviction.ErrNoPolicies) {
		t.Errorf("expected ErrNoPolicies without policies, got %v", err)
	}
	if _, err := mgr.RunOnce(context.Background()); !errors.Is(err, eviction.ErrNoPolicies) {
		t.Errorf("expected RunOnce to fail without policies, got %v", err)
	}
}

func TestVolumeValidate(t *testing.T) {
	if err := eviction.NewVolume("/media").Validate(); err != nil {
		t.Errorf("default volume invalid: %v", err)
	}
	v := eviction.NewVolume("/media")
	if v.MinFreeBytes != 30<<30 || v.RetainCount != 50 {
		t.Errorf("unexpected defaults: %+v", v)
	}

	for _, bad := range []eviction.Volume{
		{Path: ""},
		{Path: "/media", MinFreeBytes: -1},
		{Path: "/media", RetainCount: -1},
		{Path: "/media", MaxBytes: -1},
	} {
		if err := bad.Validate(); !errors.Is(err, eviction.ErrInvalidVolume) {
			t.Errorf("%+v: expected ErrInvalidVolume, got %v", bad, err)
		}
	}
}

func TestReportSummary(t *testing.T) {
	r := &eviction.Report{Decision: policy.Decision{Reason: "free space 29 GiB below 30 GiB", MustEvict: true}}
	r.Result = &eviction.Result{Deleted: 2}
	if got := r.Summary(); got != "free space 29 GiB below 30 GiB: deleted 2, already gone 0, failed 0, freed 0 B" {
		t.Errorf("unexpected summary %q", got)
	}
}
