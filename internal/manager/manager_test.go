package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tealfox/offliner/internal/data"
	"github.com/tealfox/offliner/internal/downloader"
	"github.com/tealfox/offliner/internal/requirements"
)

// memStore is an in-memory action store with an optional load gate so tests
// can hold initialization open.
type memStore struct {
	mu      sync.Mutex
	actions data.Actions
	gate    chan struct{}
}

func (s *memStore) Load(ctx context.Context) (data.Actions, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(data.Actions(nil), s.actions...), nil
}

func (s *memStore) Store(ctx context.Context, actions data.Actions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(data.Actions(nil), actions...)
	return nil
}

func (s *memStore) stored() data.Actions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(data.Actions(nil), s.actions...)
}

// fakeDownloader blocks until the test feeds a result through results.
type fakeDownloader struct {
	action  *data.Action
	results chan error

	mu         sync.Mutex
	downloaded int64
	removes    int
	attempts   int
}

func (d *fakeDownloader) Download(ctx context.Context) error {
	d.mu.Lock()
	d.attempts++
	d.mu.Unlock()
	select {
	case err := <-d.results:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *fakeDownloader) Remove(ctx context.Context) error {
	d.mu.Lock()
	d.removes++
	d.mu.Unlock()
	select {
	case err := <-d.results:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *fakeDownloader) Cancel() {}

func (d *fakeDownloader) setDownloaded(n int64) {
	d.mu.Lock()
	d.downloaded = n
	d.mu.Unlock()
}

func (d *fakeDownloader) DownloadedBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.downloaded
}

func (d *fakeDownloader) DownloadPercentage() float32 { return data.PercentageUnset }
func (d *fakeDownloader) TotalBytes() int64           { return data.LengthUnset }

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeDownloader
}

func (f *fakeFactory) NewDownloader(a *data.Action) downloader.Downloader {
	d := &fakeDownloader{action: a, results: make(chan error, 8)}
	f.mu.Lock()
	f.created = append(f.created, d)
	f.mu.Unlock()
	return d
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) at(i int) *fakeDownloader {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.created) {
		return nil
	}
	return f.created[i]
}

// recorder collects listener callbacks. Callbacks arrive on the manager's
// coordinating goroutine so everything is mutex guarded.
type recorder struct {
	mu     sync.Mutex
	states []*data.DownloadState
	idle   int
	inited bool
}

func (r *recorder) OnInitialized(m *Manager) {
	r.mu.Lock()
	r.inited = true
	r.mu.Unlock()
}

func (r *recorder) OnDownloadStateChanged(m *Manager, state *data.DownloadState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *recorder) OnIdle(m *Manager) {
	r.mu.Lock()
	r.idle++
	r.mu.Unlock()
}

func (r *recorder) OnRequirementsStateChanged(m *Manager, reqs requirements.Requirements, notMet requirements.Flags) {
}

func (r *recorder) idleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idle
}

// lastState returns the most recent recorded state for the given id.
func (r *recorder) lastState(id string) (data.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.states) - 1; i >= 0; i-- {
		if r.states[i].ID == id {
			return r.states[i].State, true
		}
	}
	return 0, false
}

func (r *recorder) sawState(id string, s data.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ds := range r.states {
		if ds.ID == id && ds.State == s {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager wires a manager with a static requirements watcher so tests
// never depend on host connectivity.
func newTestManager(t *testing.T, store *memStore, f *fakeFactory, cfg Config) (*Manager, *recorder) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.WatcherFactory == nil {
		cfg.WatcherFactory = func(reqs requirements.Requirements, onChange func(requirements.Flags)) requirements.Watcher {
			return requirements.NewStaticWatcher(0, onChange)
		}
	}
	m := New(store, f, cfg)
	t.Cleanup(m.Release)
	rec := &recorder{}
	m.AddListener(rec)
	return m, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func downloadAction(id string) *data.Action {
	return data.NewDownloadAction(id, "progressive", "https://example.com/"+id+".mp4", "", nil, nil)
}

func removeAction(id string) *data.Action {
	return data.NewRemoveAction(id, "progressive", "https://example.com/"+id+".mp4", "")
}

func TestInitializeReplaysPersistedActions(t *testing.T) {
	store := &memStore{actions: data.Actions{downloadAction("a"), downloadAction("b")}}
	f := &fakeFactory{}
	m, _ := newTestManager(t, store, f, Config{})

	waitFor(t, "initialization", m.IsInitialized)
	if got := m.DownloadCount(); got != 2 {
		t.Fatalf("expected 2 tasks after replay, got %d", got)
	}

	states := m.AllDownloadStates()
	if states[0].ID != "a" || states[1].ID != "b" {
		t.Fatalf("expected arrival order [a b], got [%s %s]", states[0].ID, states[1].ID)
	}
	// Default cap is one download at a time.
	if states[0].State != data.StateDownloading {
		t.Fatalf("expected a Downloading, got %s", states[0].State)
	}
	if states[1].State != data.StateQueued {
		t.Fatalf("expected b Queued behind the cap, got %s", states[1].State)
	}
}

func TestActionsBeforeInitializationAreBuffered(t *testing.T) {
	gate := make(chan struct{})
	store := &memStore{actions: data.Actions{downloadAction("persisted")}, gate: gate}
	f := &fakeFactory{}
	m, _ := newTestManager(t, store, f, Config{})

	m.HandleAction(downloadAction("buffered"))
	if m.IsInitialized() {
		t.Fatalf("manager initialized before the store load finished")
	}
	if got := m.DownloadCount(); got != 0 {
		t.Fatalf("expected no tasks before initialization, got %d", got)
	}

	close(gate)
	waitFor(t, "initialization", m.IsInitialized)

	states := m.AllDownloadStates()
	if len(states) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(states))
	}
	// Persisted actions replay before buffered ones.
	if states[0].ID != "persisted" || states[1].ID != "buffered" {
		t.Fatalf("expected order [persisted buffered], got [%s %s]", states[0].ID, states[1].ID)
	}
}

func TestSameIDActionsMergeIntoOneTask(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, _ := newTestManager(t, store, f, Config{})
	waitFor(t, "initialization", m.IsInitialized)

	a1 := data.NewDownloadAction("a", "dash", "https://example.com/a.mpd", "", []data.StreamKey{{Period: 0, Group: 0, Track: 0}}, nil)
	a2 := data.NewDownloadAction("a", "dash", "https://example.com/a.mpd", "", []data.StreamKey{{Period: 0, Group: 1, Track: 0}}, nil)
	m.HandleAction(a1)
	m.HandleAction(a2)

	if got := m.DownloadCount(); got != 1 {
		t.Fatalf("expected a single merged task, got %d", got)
	}
	ds, err := m.DownloadState("a")
	if err != nil {
		t.Fatalf("DownloadState: %v", err)
	}
	if len(ds.StreamKeys) != 2 {
		t.Fatalf("expected merged stream keys, got %v", ds.StreamKeys)
	}
}

func TestCapPromotesQueuedDownload(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, rec := newTestManager(t, store, f, Config{MaxSimultaneousDownloads: 1})
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	m.HandleAction(downloadAction("b"))
	waitFor(t, "first worker", func() bool { return f.count() == 1 })

	if ds, _ := m.DownloadState("b"); ds.State != data.StateQueued {
		t.Fatalf("expected b Queued, got %s", ds.State)
	}

	// Complete a; its slot goes to b.
	f.at(0).results <- nil
	waitFor(t, "a completed", func() bool { return rec.sawState("a", data.StateCompleted) })
	waitFor(t, "b promoted", func() bool {
		ds, err := m.DownloadState("b")
		return err == nil && ds.State == data.StateDownloading
	})

	// Completed tasks leave the task list and the persisted set.
	if _, err := m.DownloadState("a"); !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for completed task, got %v", err)
	}
	waitFor(t, "persisted set shrinks", func() bool {
		stored := store.stored()
		return len(stored) == 1 && stored[0].ID == "b"
	})
}

func TestRemovalsAreExemptFromTheCap(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, rec := newTestManager(t, store, f, Config{MaxSimultaneousDownloads: 1})
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	waitFor(t, "a downloading", func() bool { return f.count() == 1 })

	m.HandleAction(removeAction("b"))
	waitFor(t, "removal worker", func() bool {
		d := f.at(1)
		if d == nil {
			return false
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.removes == 1
	})

	if ds, _ := m.DownloadState("a"); ds.State != data.StateDownloading {
		t.Fatalf("removal displaced a running download: %s", ds.State)
	}

	f.at(1).results <- nil
	waitFor(t, "b removed", func() bool { return rec.sawState("b", data.StateRemoved) })
}

func TestStopAndResume(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, rec := newTestManager(t, store, f, Config{})
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	waitFor(t, "a downloading", func() bool { return f.count() == 1 })

	m.StopDownloads(7)
	waitFor(t, "a stopped", func() bool { return rec.sawState("a", data.StateStopped) })

	ds, err := m.DownloadState("a")
	if err != nil {
		t.Fatalf("DownloadState: %v", err)
	}
	if ds.ManualStopReason != 7 {
		t.Fatalf("expected manual stop reason 7, got %d", ds.ManualStopReason)
	}
	if ds.StopFlags&data.StopFlagManual == 0 {
		t.Fatalf("expected manual stop flag, got %v", ds.StopFlags)
	}

	m.StartDownloads()
	waitFor(t, "a resumed", func() bool {
		s, ok := rec.lastState("a")
		return ok && s == data.StateDownloading
	})
	// Resuming builds a fresh downloader.
	waitFor(t, "second downloader", func() bool { return f.count() == 2 })
}

func TestStopSingleDownload(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, rec := newTestManager(t, store, f, Config{MaxSimultaneousDownloads: 2})
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	m.HandleAction(downloadAction("b"))
	waitFor(t, "both downloading", func() bool { return f.count() == 2 })

	m.StopDownload("a", 3)
	waitFor(t, "a stopped", func() bool { return rec.sawState("a", data.StateStopped) })
	if ds, _ := m.DownloadState("b"); ds.State != data.StateDownloading {
		t.Fatalf("stopping a took b down too: %s", ds.State)
	}

	m.StartDownload("a")
	waitFor(t, "a downloading again", func() bool {
		s, ok := rec.lastState("a")
		return ok && s == data.StateDownloading
	})
}

func TestRequirementsGateDownloads(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	var (
		mu      sync.Mutex
		watcher *requirements.StaticWatcher
	)
	factory := func(reqs requirements.Requirements, onChange func(requirements.Flags)) requirements.Watcher {
		mu.Lock()
		defer mu.Unlock()
		watcher = requirements.NewStaticWatcher(0, onChange)
		return watcher
	}
	m, rec := newTestManager(t, store, f, Config{
		Requirements:   requirements.Requirements{Required: requirements.FlagNetwork},
		WatcherFactory: factory,
	})
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	waitFor(t, "a downloading", func() bool { return f.count() == 1 })

	mu.Lock()
	w := watcher
	mu.Unlock()
	w.Set(requirements.FlagNetwork)
	waitFor(t, "a stopped on requirements", func() bool { return rec.sawState("a", data.StateStopped) })

	ds, _ := m.DownloadState("a")
	if ds.StopFlags&data.StopFlagRequirementsNotMet == 0 {
		t.Fatalf("expected requirements stop flag, got %v", ds.StopFlags)
	}
	if got := m.NotMetRequirements(); got != requirements.FlagNetwork {
		t.Fatalf("expected network unmet, got %v", got)
	}

	w.Set(0)
	waitFor(t, "a resumed", func() bool {
		s, ok := rec.lastState("a")
		return ok && s == data.StateDownloading
	})
}

func TestSetRequirementsEqualSetIsNoOp(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	var (
		mu    sync.Mutex
		built int
	)
	factory := func(reqs requirements.Requirements, onChange func(requirements.Flags)) requirements.Watcher {
		mu.Lock()
		built++
		mu.Unlock()
		return requirements.NewStaticWatcher(0, onChange)
	}
	m, _ := newTestManager(t, store, f, Config{
		Requirements:   requirements.Requirements{Required: requirements.FlagNetwork},
		WatcherFactory: factory,
	})
	waitFor(t, "initialization", m.IsInitialized)

	m.SetRequirements(requirements.Requirements{Required: requirements.FlagNetwork})
	mu.Lock()
	got := built
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected no new watcher for an equal set, built %d", got)
	}

	m.SetRequirements(requirements.Requirements{Required: requirements.FlagNetwork | requirements.FlagCharging})
	mu.Lock()
	got = built
	mu.Unlock()
	if got != 2 {
		t.Fatalf("expected a new watcher for a different set, built %d", got)
	}
	if r := m.Requirements(); r.Required != requirements.FlagNetwork|requirements.FlagCharging {
		t.Fatalf("requirements not replaced: %v", r.Required)
	}
}

// A polling watcher whose check flips on every tick keeps notifications in
// flight while the coordinator replaces or stops the watcher. Replacing and
// releasing must still complete: stopping a watcher may never wait on a
// notification addressed to the goroutine doing the stopping.
func TestSetRequirementsDuringWatcherNotifications(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	var (
		mu sync.Mutex
		up bool
	)
	checks := map[requirements.Flags]requirements.Check{
		requirements.FlagNetwork: func() bool {
			mu.Lock()
			defer mu.Unlock()
			up = !up
			return up
		},
	}
	factory := func(reqs requirements.Requirements, onChange func(requirements.Flags)) requirements.Watcher {
		w := requirements.NewPollingWatcher(reqs, onChange, checks, time.Millisecond)
		w.SetLogger(testLogger())
		return w
	}
	m := New(store, f, Config{
		Requirements:   requirements.Requirements{Required: requirements.FlagNetwork},
		WatcherFactory: factory,
		Logger:         testLogger(),
	})
	waitFor(t, "initialization", m.IsInitialized)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			m.SetRequirements(requirements.Requirements{Required: requirements.FlagNetwork | requirements.FlagCharging})
			m.SetRequirements(requirements.Requirements{Required: requirements.FlagNetwork})
		}
		m.Release()
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("requirement churn stalled with notifications in flight")
	}
}

func TestRetryGivesUpAfterMinRetryCount(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, rec := newTestManager(t, store, f, Config{MinRetryCount: 5})
	m.retryDelay = func(int) time.Duration { return 0 }
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	waitFor(t, "worker", func() bool { return f.count() == 1 })

	// Same offset every time: the first attempt plus minRetryCount retries,
	// then the failure is terminal.
	errDown := errors.New("connection reset")
	d := f.at(0)
	for i := 0; i < 6; i++ {
		d.results <- errDown
	}

	waitFor(t, "a failed", func() bool { return rec.sawState("a", data.StateFailed) })

	d.mu.Lock()
	attempts := d.attempts
	d.mu.Unlock()
	if attempts != 6 {
		t.Fatalf("expected exactly 6 attempts, got %d", attempts)
	}

	rec.mu.Lock()
	var failed *data.DownloadState
	for _, ds := range rec.states {
		if ds.ID == "a" && ds.State == data.StateFailed {
			failed = ds
		}
	}
	rec.mu.Unlock()
	if failed.FailureReason != data.FailureUnknown {
		t.Fatalf("expected FailureUnknown, got %v", failed.FailureReason)
	}
	// Failed tasks leave the task list.
	if _, err := m.DownloadState("a"); !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after failure, got %v", err)
	}
}

func TestRetryCountResetsWhenOffsetAdvances(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, rec := newTestManager(t, store, f, Config{MinRetryCount: 1})
	m.retryDelay = func(int) time.Duration { return 0 }
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	waitFor(t, "worker", func() bool { return f.count() == 1 })

	errDown := errors.New("connection reset")
	d := f.at(0)
	d.results <- errDown // fails at offset 0, first retry
	d.setDownloaded(10)  // progress made before the next failure
	d.results <- errDown // offset moved, retry budget resets
	d.results <- nil

	waitFor(t, "a completed", func() bool { return rec.sawState("a", data.StateCompleted) })
}

func TestRemoveWhileDownloadingThenRestart(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, rec := newTestManager(t, store, f, Config{})
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	waitFor(t, "downloading", func() bool { return f.count() == 1 })

	// Remove cancels the download worker, then a fresh download arrives
	// before the removal finishes: the task restarts after removing.
	m.HandleAction(removeAction("a"))
	waitFor(t, "removal worker", func() bool {
		d := f.at(1)
		if d == nil {
			return false
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.removes == 1
	})
	m.HandleAction(downloadAction("a"))

	if ds, _ := m.DownloadState("a"); ds.State != data.StateRestarting {
		t.Fatalf("expected Restarting, got %s", ds.State)
	}
	// A restarting task persists both its remove and its re-download.
	waitFor(t, "two persisted actions", func() bool {
		stored := store.stored()
		return len(stored) == 2 && stored[0].IsRemove && !stored[1].IsRemove
	})

	f.at(1).results <- nil // removal finishes
	waitFor(t, "downloading again", func() bool {
		s, ok := rec.lastState("a")
		return ok && s == data.StateDownloading
	})

	f.at(2).results <- nil
	waitFor(t, "completed", func() bool { return rec.sawState("a", data.StateCompleted) })
}

func TestRemovalErrorFailsTask(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, rec := newTestManager(t, store, f, Config{})
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(removeAction("a"))
	waitFor(t, "removal worker", func() bool { return f.count() == 1 })

	f.at(0).results <- errors.New("permission denied")
	waitFor(t, "a failed", func() bool { return rec.sawState("a", data.StateFailed) })
}

func TestIdleNotifiedOncePerQuiescence(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, rec := newTestManager(t, store, f, Config{})
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	waitFor(t, "worker", func() bool { return f.count() == 1 })
	f.at(0).results <- nil

	waitFor(t, "idle", func() bool { return rec.idleCount() == 1 })
	waitFor(t, "manager idle", m.IsIdle)

	time.Sleep(20 * time.Millisecond)
	if got := rec.idleCount(); got != 1 {
		t.Fatalf("expected exactly one idle notification, got %d", got)
	}
}

func TestFinalSnapshotCarriesNoLiveProgress(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, rec := newTestManager(t, store, f, Config{})
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	waitFor(t, "worker", func() bool { return f.count() == 1 })
	f.at(0).setDownloaded(512)
	f.at(0).results <- nil

	waitFor(t, "completed", func() bool { return rec.sawState("a", data.StateCompleted) })
	rec.mu.Lock()
	var final *data.DownloadState
	for _, ds := range rec.states {
		if ds.ID == "a" && ds.State == data.StateCompleted {
			final = ds
		}
	}
	rec.mu.Unlock()
	// The worker is gone by the time the terminal snapshot is taken, so
	// progress reads from the defaults rather than a stale downloader.
	if final.DownloadedBytes != 0 {
		t.Fatalf("terminal snapshot read a discarded downloader: %d bytes", final.DownloadedBytes)
	}
}

func TestReleasePersistsActionsAndForbidsUse(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	cfg := Config{Logger: testLogger(), WatcherFactory: func(reqs requirements.Requirements, onChange func(requirements.Flags)) requirements.Watcher {
		return requirements.NewStaticWatcher(0, onChange)
	}}
	m := New(store, f, cfg)
	waitFor(t, "initialization", m.IsInitialized)

	m.HandleAction(downloadAction("a"))
	m.Release()
	m.Release() // second release is a no-op

	stored := store.stored()
	if len(stored) != 1 || stored[0].ID != "a" {
		t.Fatalf("expected the pending action persisted at release, got %v", stored)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected use after Release to panic")
		}
	}()
	m.DownloadCount()
}

func TestListenersAddRemove(t *testing.T) {
	store := &memStore{}
	f := &fakeFactory{}
	m, _ := newTestManager(t, store, f, Config{})
	waitFor(t, "initialization", m.IsInitialized)

	extra := &recorder{}
	m.AddListener(extra)
	m.RemoveListener(extra)

	m.HandleAction(downloadAction("a"))
	waitFor(t, "worker", func() bool { return f.count() == 1 })

	extra.mu.Lock()
	n := len(extra.states)
	extra.mu.Unlock()
	if n != 0 {
		t.Fatalf("removed listener still received %d events", n)
	}
}

func TestDefaultRetryDelaySchedule(t *testing.T) {
	cases := []struct {
		errorCount int
		want       time.Duration
	}{
		{1, 0},
		{2, time.Second},
		{3, 2 * time.Second},
		{5, 4 * time.Second},
		{6, 5 * time.Second},
		{20, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := defaultRetryDelay(tc.errorCount); got != tc.want {
			t.Fatalf("delay(%d) = %v, want %v", tc.errorCount, got, tc.want)
		}
	}
}
