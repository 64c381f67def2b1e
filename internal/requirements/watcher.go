package requirements

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

// Watcher monitors a requirement set. Start begins monitoring and returns
// the currently-unmet flags (0 means all requirements hold); afterwards the
// watcher invokes its change callback on every transition until Stop.
type Watcher interface {
	Start() Flags
	Stop()
}

// WatcherFactory builds a Watcher for a requirement set. onChange is invoked
// with the unmet flags whenever they change.
type WatcherFactory func(reqs Requirements, onChange func(notMet Flags)) Watcher

// Check evaluates whether a single requirement currently holds.
type Check func() bool

// PollingWatcher re-evaluates its checks on a fixed interval and reports
// unmet-flag transitions. Requirements without a registered check are
// treated as met.
type PollingWatcher struct {
	reqs     Requirements
	onChange func(Flags)
	checks   map[Flags]Check
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	lastNot Flags
}

// NewPollingWatcher builds a watcher over the given checks. A nil checks map
// installs the default connectivity check for FlagNetwork.
func NewPollingWatcher(reqs Requirements, onChange func(Flags), checks map[Flags]Check, interval time.Duration) *PollingWatcher {
	if checks == nil {
		checks = map[Flags]Check{FlagNetwork: NetworkUp}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollingWatcher{
		reqs:     reqs,
		onChange: onChange,
		checks:   checks,
		interval: interval,
		log:      slog.Default(),
	}
}

// SetLogger allows wiring a shared application logger into the watcher.
func (w *PollingWatcher) SetLogger(l *slog.Logger) {
	if l != nil {
		w.log = l
	}
}

func (w *PollingWatcher) Start() Flags {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return w.lastNot
	}
	w.lastNot = w.evaluate()
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.run(w.stop)
	return w.lastNot
}

func (w *PollingWatcher) Stop() {
	w.mu.Lock()
	stop := w.stop
	w.stop = nil
	w.mu.Unlock()
	if stop != nil {
		close(stop)
		w.wg.Wait()
	}
}

func (w *PollingWatcher) run(stop chan struct{}) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.mu.Lock()
			notMet := w.evaluate()
			changed := notMet != w.lastNot
			w.lastNot = notMet
			w.mu.Unlock()
			if changed {
				w.log.Info("requirement state changed", "notMet", notMet.String())
				if w.onChange != nil {
					w.onChange(notMet)
				}
			}
		}
	}
}

// evaluate is called with w.mu held.
func (w *PollingWatcher) evaluate() Flags {
	var notMet Flags
	for _, fn := range flagNames {
		if w.reqs.Required&fn.flag == 0 {
			continue
		}
		check, ok := w.checks[fn.flag]
		if ok && !check() {
			notMet |= fn.flag
		}
	}
	return notMet
}

// NetworkUp reports whether any non-loopback interface carries an address.
func NetworkUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// StaticWatcher reports a fixed unmet-flag set. Change is pushed by tests
// or by external schedulers through Set.
type StaticWatcher struct {
	mu       sync.Mutex
	notMet   Flags
	onChange func(Flags)
	started  bool
}

func NewStaticWatcher(notMet Flags, onChange func(Flags)) *StaticWatcher {
	return &StaticWatcher{notMet: notMet, onChange: onChange}
}

func (w *StaticWatcher) Start() Flags {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
	return w.notMet
}

func (w *StaticWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = false
}

// Set replaces the unmet flags and notifies on change while started.
func (w *StaticWatcher) Set(notMet Flags) {
	w.mu.Lock()
	changed := w.started && w.notMet != notMet
	w.notMet = notMet
	onChange := w.onChange
	w.mu.Unlock()
	if changed && onChange != nil {
		onChange(notMet)
	}
}

var (
	_ Watcher = (*PollingWatcher)(nil)
	_ Watcher = (*StaticWatcher)(nil)
)
