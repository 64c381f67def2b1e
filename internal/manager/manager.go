package manager

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tealfox/offliner/internal/actionstore"
	"github.com/tealfox/offliner/internal/data"
	"github.com/tealfox/offliner/internal/downloader"
	"github.com/tealfox/offliner/internal/metrics"
	"github.com/tealfox/offliner/internal/requirements"
)

const (
	// DefaultMaxSimultaneousDownloads is the default concurrent download cap.
	DefaultMaxSimultaneousDownloads = 1
	// DefaultMinRetryCount is the default number of consecutive same-offset
	// failures tolerated before a download fails.
	DefaultMinRetryCount = 5
)

// Listener receives manager lifecycle events. Callbacks run on the
// coordinating goroutine and must not call back into the Manager.
type Listener interface {
	OnInitialized(m *Manager)
	OnDownloadStateChanged(m *Manager, state *data.DownloadState)
	OnIdle(m *Manager)
	OnRequirementsStateChanged(m *Manager, reqs requirements.Requirements, notMet requirements.Flags)
}

// Config carries the optional knobs for a Manager. Zero values select the
// defaults; a zero Requirements set means downloads are never gated on
// external conditions.
type Config struct {
	MaxSimultaneousDownloads int
	MinRetryCount            int
	Requirements             requirements.Requirements
	WatcherFactory           requirements.WatcherFactory
	Logger                   *slog.Logger
}

// Manager coordinates download and removal tasks: it merges incoming
// actions into per-content tasks, enforces the simultaneous-download cap,
// runs workers, persists the pending action set, and fans out lifecycle
// events to listeners.
//
// All state below the calls channel is confined to the coordinating
// goroutine; public methods marshal onto it and block until handled.
type Manager struct {
	log            *slog.Logger
	store          actionstore.Store
	factory        downloader.Factory
	watcherFactory requirements.WatcherFactory

	maxSimultaneousDownloads int
	minRetryCount            int

	calls    chan func()
	quit     chan struct{}
	loopDone chan struct{}
	ioJobs   chan func()
	ioQuit   chan struct{}
	released atomic.Bool

	// Queue for fire-and-forget posts. Senders must never block: the
	// watcher goroutine posts notifications while the coordinator may be
	// inside watcher.Stop waiting for that same goroutine to finish.
	postMu   sync.Mutex
	postQ    []func()
	postWake chan struct{}

	// Coordinator-confined state.
	tasks                 []*task
	active                map[*task]*worker
	pending               data.Actions
	listeners             []Listener
	watcher               requirements.Watcher
	reqs                  requirements.Requirements
	stopFlags             data.StopFlags
	notMetRequirements    requirements.Flags
	manualStopReason      int
	simultaneousDownloads int
	initialized           bool

	// Seams for tests.
	retryDelay func(errorCount int) time.Duration
	now        func() time.Time
}

// New constructs a Manager, starts its coordinating and persistence
// goroutines, and begins loading the persisted action set. Listeners added
// before initialization completes observe the replay of persisted actions.
func New(store actionstore.Store, factory downloader.Factory, cfg Config) *Manager {
	if cfg.MaxSimultaneousDownloads <= 0 {
		cfg.MaxSimultaneousDownloads = DefaultMaxSimultaneousDownloads
	}
	if cfg.MinRetryCount <= 0 {
		cfg.MinRetryCount = DefaultMinRetryCount
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WatcherFactory == nil {
		cfg.WatcherFactory = func(reqs requirements.Requirements, onChange func(requirements.Flags)) requirements.Watcher {
			return requirements.NewPollingWatcher(reqs, onChange, nil, 0)
		}
	}
	m := &Manager{
		log:                      cfg.Logger,
		store:                    store,
		factory:                  factory,
		watcherFactory:           cfg.WatcherFactory,
		maxSimultaneousDownloads: cfg.MaxSimultaneousDownloads,
		minRetryCount:            cfg.MinRetryCount,
		calls:                    make(chan func()),
		quit:                     make(chan struct{}),
		loopDone:                 make(chan struct{}),
		ioJobs:                   make(chan func(), 16),
		ioQuit:                   make(chan struct{}),
		postWake:                 make(chan struct{}, 1),
		active:                   make(map[*task]*worker),
		stopFlags:                data.StopFlagManual,
		retryDelay:               defaultRetryDelay,
		now:                      time.Now,
	}
	go m.run()
	go m.runIO()
	m.call(func() {
		m.setNotMetRequirements(m.watchRequirements(cfg.Requirements))
		m.loadActions()
	})
	m.log.Debug("manager created")
	return m
}

// run is the coordinating goroutine. Everything that mutates manager or
// task state executes here.
func (m *Manager) run() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.quit:
			return
		case f := <-m.calls:
			f()
		case <-m.postWake:
			m.drainPosts()
		}
	}
}

func (m *Manager) drainPosts() {
	for {
		m.postMu.Lock()
		if len(m.postQ) == 0 {
			m.postMu.Unlock()
			return
		}
		f := m.postQ[0]
		m.postQ = m.postQ[1:]
		m.postMu.Unlock()
		f()
	}
}

// runIO executes persistence jobs strictly in submission order.
func (m *Manager) runIO() {
	for {
		select {
		case <-m.ioQuit:
			return
		case job := <-m.ioJobs:
			job()
		}
	}
}

// call posts f to the coordinating goroutine and waits for it to finish.
func (m *Manager) call(f func()) {
	done := make(chan struct{})
	select {
	case m.calls <- func() { f(); close(done) }:
		<-done
	case <-m.loopDone:
		panic("offliner: manager used after Release")
	}
}

// post delivers f to the coordinating goroutine without waiting or
// blocking. The coordinator stops watchers and waits for their goroutines
// to exit, so a notification in flight from one of those goroutines must
// be queued, not handed over. Posts that arrive after Release are dropped.
func (m *Manager) post(f func()) {
	select {
	case <-m.loopDone:
		return
	default:
	}
	m.postMu.Lock()
	m.postQ = append(m.postQ, f)
	m.postMu.Unlock()
	select {
	case m.postWake <- struct{}{}:
	default:
	}
}

func (m *Manager) checkNotReleased() {
	if m.released.Load() {
		panic("offliner: manager used after Release")
	}
}

// HandleAction enqueues or immediately dispatches an action. Actions that
// arrive before the persisted set finishes loading are buffered and
// replayed in arrival order once it does.
func (m *Manager) HandleAction(a *data.Action) {
	m.checkNotReleased()
	m.call(func() {
		if m.initialized {
			m.addTaskForAction(a)
			m.saveActions()
		} else {
			m.pending = append(m.pending, a)
		}
	})
}

// SetRequirements replaces the watched requirement set. A set equal to the
// current one is a no-op.
func (m *Manager) SetRequirements(reqs requirements.Requirements) {
	m.checkNotReleased()
	m.call(func() {
		if reqs.Equal(m.reqs) {
			return
		}
		if m.watcher != nil {
			m.watcher.Stop()
		}
		m.onRequirementsStateChanged(m.watchRequirements(reqs))
	})
}

// Requirements returns the currently watched requirement set.
func (m *Manager) Requirements() requirements.Requirements {
	m.checkNotReleased()
	var r requirements.Requirements
	m.call(func() { r = m.reqs })
	return r
}

// NotMetRequirements returns the currently unmet requirement flags.
func (m *Manager) NotMetRequirements() requirements.Flags {
	m.checkNotReleased()
	var f requirements.Flags
	m.call(func() { f = m.notMetRequirements })
	return f
}

// AddListener registers a listener for manager events.
func (m *Manager) AddListener(l Listener) {
	m.checkNotReleased()
	m.call(func() { m.listeners = append(m.listeners, l) })
}

// RemoveListener unregisters a previously added listener.
func (m *Manager) RemoveListener(l Listener) {
	m.checkNotReleased()
	m.call(func() {
		for i, have := range m.listeners {
			if have == l {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	})
}

// StartDownloads clears the manual stop flag of all tasks. Downloads run
// once the requirements are also met.
func (m *Manager) StartDownloads() {
	m.checkNotReleased()
	m.call(m.startDownloadsInternal)
}

// StopDownloads signals all tasks to stop, recording an application-defined
// reason code. Call StartDownloads to let them run again.
func (m *Manager) StopDownloads(manualStopReason int) {
	m.checkNotReleased()
	m.call(func() { m.stopDownloadsInternal(manualStopReason) })
}

// StartDownload clears the manual stop flag of the task with the given id.
func (m *Manager) StartDownload(id string) {
	m.checkNotReleased()
	m.call(func() {
		if t := m.taskByID(id); t != nil {
			m.log.Debug("download started manually", "id", id)
			t.clearManualStopReason()
		}
	})
}

// StopDownload signals the task with the given id to stop.
func (m *Manager) StopDownload(id string, manualStopReason int) {
	m.checkNotReleased()
	m.call(func() {
		if t := m.taskByID(id); t != nil {
			m.log.Debug("download stopped manually", "id", id)
			t.setManualStopReason(manualStopReason)
		}
	})
}

// DownloadState returns the snapshot for the given content id.
func (m *Manager) DownloadState(id string) (*data.DownloadState, error) {
	m.checkNotReleased()
	var (
		ds  *data.DownloadState
		err error
	)
	m.call(func() {
		if t := m.taskByID(id); t != nil {
			ds = t.downloadState()
		} else {
			err = data.ErrNotFound
		}
	})
	return ds, err
}

// AllDownloadStates returns snapshots of all live tasks in arrival order.
func (m *Manager) AllDownloadStates() data.DownloadStates {
	m.checkNotReleased()
	var states data.DownloadStates
	m.call(func() {
		states = make(data.DownloadStates, 0, len(m.tasks))
		for _, t := range m.tasks {
			states = append(states, t.downloadState())
		}
	})
	return states
}

// DownloadCount returns the number of live tasks.
func (m *Manager) DownloadCount() int {
	m.checkNotReleased()
	var n int
	m.call(func() { n = len(m.tasks) })
	return n
}

// IsInitialized reports whether the persisted action set has been loaded.
func (m *Manager) IsInitialized() bool {
	m.checkNotReleased()
	var ok bool
	m.call(func() { ok = m.initialized })
	return ok
}

// IsIdle reports whether the manager is initialized with no running worker.
func (m *Manager) IsIdle() bool {
	m.checkNotReleased()
	var ok bool
	m.call(func() { ok = m.initialized && len(m.active) == 0 })
	return ok
}

// Release cancels all in-flight workers, stops the requirements watcher,
// waits for pending persistence writes to drain, and shuts the manager
// down. The manager must not be used afterwards; any further call panics.
func (m *Manager) Release() {
	if !m.released.CompareAndSwap(false, true) {
		return
	}
	m.call(func() {
		m.stopAllWorkers()
		if m.watcher != nil {
			m.watcher.Stop()
		}
	})
	// Drain the persistence queue so the action file reflects the last
	// mutation before release.
	done := make(chan struct{})
	m.ioJobs <- func() { close(done) }
	<-done
	close(m.ioQuit)
	close(m.quit)
	m.log.Debug("manager released")
}

// ----- coordinator-confined internals -----

func (m *Manager) startDownloadsInternal() {
	m.log.Debug("manual stop cleared for all downloads")
	m.manualStopReason = 0
	m.stopFlags &^= data.StopFlagManual
	for _, t := range m.snapshotTasks() {
		t.clearManualStopReason()
	}
}

func (m *Manager) stopDownloadsInternal(manualStopReason int) {
	m.log.Debug("downloads stopped manually", "reason", manualStopReason)
	m.manualStopReason = manualStopReason
	m.stopFlags |= data.StopFlagManual
	for _, t := range m.snapshotTasks() {
		t.setManualStopReason(manualStopReason)
	}
}

func (m *Manager) addTaskForAction(a *data.Action) {
	for _, t := range m.tasks {
		if t.addAction(a) {
			m.log.Debug("action merged into existing task", "id", a.ID, "state", t.state.String())
			return
		}
	}
	t := newTask(m, a, m.stopFlags, m.notMetRequirements, m.manualStopReason)
	m.tasks = append(m.tasks, t)
	m.log.Debug("task added", "id", a.ID, "remove", a.IsRemove)
	t.initialize(t.snapshot.State)
}

func (m *Manager) taskByID(id string) *task {
	for _, t := range m.tasks {
		if t.id() == id {
			return t
		}
	}
	return nil
}

func (m *Manager) removeTask(t *task) {
	for i, have := range m.tasks {
		if have == t {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return
		}
	}
}

// snapshotTasks copies the task list so transitions may remove finished
// tasks while callers iterate.
func (m *Manager) snapshotTasks() []*task {
	return append([]*task(nil), m.tasks...)
}

func (m *Manager) snapshotListeners() []Listener {
	return append([]Listener(nil), m.listeners...)
}

func (m *Manager) onTaskStateChanged(t *task) {
	if m.released.Load() {
		return
	}
	ds := t.downloadState()
	m.log.Debug("task state changed", "id", t.id(), "state", ds.State.String())
	metrics.StateTransitions.WithLabelValues(ds.State.String()).Inc()
	for _, l := range m.snapshotListeners() {
		l.OnDownloadStateChanged(m, ds)
	}
	if t.isFinished() {
		m.removeTask(t)
		m.saveActions()
	}
}

func (m *Manager) maybeNotifyIdle() {
	if !m.initialized || len(m.active) != 0 {
		return
	}
	m.log.Debug("idle")
	for _, l := range m.snapshotListeners() {
		l.OnIdle(m)
	}
}

func (m *Manager) onRequirementsStateChanged(notMet requirements.Flags) {
	m.setNotMetRequirements(notMet)
	m.log.Debug("not met requirements changed", "notMet", notMet.String())
	for _, l := range m.snapshotListeners() {
		l.OnRequirementsStateChanged(m, m.reqs, notMet)
	}
	for _, t := range m.snapshotTasks() {
		t.setNotMetRequirements(notMet)
	}
}

func (m *Manager) setNotMetRequirements(notMet requirements.Flags) {
	m.notMetRequirements = notMet
	if notMet == 0 {
		m.stopFlags &^= data.StopFlagRequirementsNotMet
	} else {
		m.stopFlags |= data.StopFlagRequirementsNotMet
	}
}

// watchRequirements replaces the watcher and primes the manual stop flag
// off the initial evaluation, returning the initial unmet flags.
func (m *Manager) watchRequirements(reqs requirements.Requirements) requirements.Flags {
	m.reqs = reqs
	m.watcher = m.watcherFactory(reqs, func(notMet requirements.Flags) {
		m.post(func() { m.onRequirementsStateChanged(notMet) })
	})
	notMet := m.watcher.Start()
	if notMet == 0 {
		m.startDownloadsInternal()
	} else {
		m.stopDownloadsInternal(m.manualStopReason)
	}
	return notMet
}

func (m *Manager) loadActions() {
	m.ioJobs <- func() {
		actions, err := m.store.Load(context.Background())
		if err != nil {
			m.log.Error("action store load failed", "err", err)
			actions = nil
		}
		m.post(func() {
			if m.released.Load() {
				return
			}
			for _, a := range actions {
				m.addTaskForAction(a)
			}
			if len(m.pending) > 0 {
				pending := m.pending
				m.pending = nil
				for _, a := range pending {
					m.addTaskForAction(a)
				}
				m.saveActions()
			}
			m.initialized = true
			m.log.Info("initialized", "tasks", len(m.tasks))
			for _, l := range m.snapshotListeners() {
				l.OnInitialized(m)
			}
			for _, t := range m.snapshotTasks() {
				t.start()
			}
		})
	}
}

// saveActions re-derives the full pending action set and queues an
// asynchronous overwrite of the persisted copy. Write failures are logged
// and leave the previous copy stale.
func (m *Manager) saveActions() {
	if m.released.Load() {
		return
	}
	actions := make(data.Actions, 0, len(m.tasks))
	for _, t := range m.tasks {
		actions = t.appendActions(actions)
	}
	m.ioJobs <- func() {
		start := time.Now()
		if err := m.store.Store(context.Background(), actions); err != nil {
			m.log.Error("action store write failed", "err", err)
			return
		}
		metrics.ActionStoreWriteLatency.Observe(time.Since(start).Seconds())
		m.log.Debug("actions persisted", "count", len(actions))
	}
}

type startResult int

const (
	startSucceeded startResult = iota
	startWaitRemovalToFinish
	startWaitDownloadCancellation
	startTooManyDownloads
	startNotAllowed
)

func (m *Manager) startWorker(t *task, a *data.Action) startResult {
	if !m.initialized || m.released.Load() {
		return startNotAllowed
	}
	if _, ok := m.active[t]; ok {
		if m.stopWorker(t) {
			return startWaitDownloadCancellation
		}
		return startWaitRemovalToFinish
	}
	if !a.IsRemove {
		if m.simultaneousDownloads == m.maxSimultaneousDownloads {
			return startTooManyDownloads
		}
		m.simultaneousDownloads++
	}
	w := newWorker(m, t, m.factory.NewDownloader(a), a.IsRemove)
	m.active[t] = w
	metrics.ActiveDownloads.Set(float64(len(m.active)))
	m.log.Debug("worker started", "id", t.id(), "remove", a.IsRemove)
	go w.run()
	return startSucceeded
}

// stopWorker cancels the task's in-flight download worker, if any. Removal
// workers are never cancelled here; they run to completion.
func (m *Manager) stopWorker(t *task) bool {
	if w := m.active[t]; w != nil && !w.isRemove {
		w.cancel()
		m.log.Debug("worker cancelled", "id", t.id())
		return true
	}
	return false
}

func (m *Manager) stopAllWorkers() {
	for t := range m.active {
		m.stopWorker(t)
	}
}

func (m *Manager) onWorkerStopped(w *worker, err error) {
	if m.released.Load() {
		return
	}
	t := w.task
	// Drop the worker before the task transitions so final snapshots never
	// read progress from a discarded downloader.
	delete(m.active, t)
	metrics.ActiveDownloads.Set(float64(len(m.active)))
	tryToStartDownloads := false
	if !w.isRemove {
		// If the cap was hit, a queued task may be waiting for this slot.
		tryToStartDownloads = m.simultaneousDownloads == m.maxSimultaneousDownloads
		m.simultaneousDownloads--
	}
	t.onWorkerStopped(w.canceled.Load(), err)
	if tryToStartDownloads {
		for _, cand := range m.snapshotTasks() {
			if m.simultaneousDownloads >= m.maxSimultaneousDownloads {
				break
			}
			if cand.state == data.StateQueued {
				cand.start()
			}
		}
	}
	m.maybeNotifyIdle()
}

func (m *Manager) downloaderFor(t *task) downloader.Downloader {
	if w, ok := m.active[t]; ok {
		return w.dlr
	}
	return nil
}
