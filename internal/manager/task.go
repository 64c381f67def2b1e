package manager

import (
	"github.com/tealfox/offliner/internal/data"
	"github.com/tealfox/offliner/internal/requirements"
)

// task is the per-content-id state machine. It is owned exclusively by the
// manager's coordinating goroutine; nothing here takes a lock.
type task struct {
	m *Manager

	snapshot         *data.DownloadState
	state            data.State
	failureReason    data.FailureReason
	stopFlags        data.StopFlags
	notMet           requirements.Flags
	manualStopReason int
}

func newTask(m *Manager, a *data.Action, stopFlags data.StopFlags, notMet requirements.Flags, manualStopReason int) *task {
	return &task{
		m:                m,
		snapshot:         data.NewDownloadState(a, m.now()),
		stopFlags:        stopFlags,
		notMet:           notMet,
		manualStopReason: manualStopReason,
	}
}

func (t *task) id() string { return t.snapshot.ID }

// addAction merges a new action for the same content id into this task and
// re-evaluates the state machine. It returns false when the id differs.
// A type mismatch on a matching id is a caller bug.
func (t *task) addAction(a *data.Action) bool {
	if t.id() != a.ID {
		return false
	}
	if t.snapshot.Type != a.Type {
		panic("offliner: " + data.ErrTypeMismatch.Error() + " " + a.ID)
	}
	t.initialize(t.mergeAction(a))
	return true
}

// mergeAction folds the action into the snapshot and returns the state the
// task should re-initialize with. A remove action always moves the task to
// Removing; a download action arriving during removal schedules a restart.
func (t *task) mergeAction(a *data.Action) data.State {
	if a.IsRemove {
		return data.StateRemoving
	}
	t.snapshot.StreamKeys = data.MergeStreamKeys(t.snapshot.StreamKeys, a.StreamKeys)
	if len(a.Data) > 0 {
		t.snapshot.Data = append([]byte(nil), a.Data...)
	}
	if t.state == data.StateRemoving || t.state == data.StateRestarting {
		return data.StateRestarting
	}
	return t.state
}

// downloadState merges the live fields into a fresh immutable snapshot,
// pulling progress from the active downloader when one is running.
func (t *task) downloadState() *data.DownloadState {
	percentage := data.PercentageUnset
	downloadedBytes := int64(0)
	totalBytes := data.LengthUnset
	if dlr := t.m.downloaderFor(t); dlr != nil {
		percentage = dlr.DownloadPercentage()
		downloadedBytes = dlr.DownloadedBytes()
		totalBytes = dlr.TotalBytes()
	}
	failureReason := data.FailureNone
	if t.state == data.StateFailed {
		failureReason = t.failureReason
	}
	s := *t.snapshot
	s.State = t.state
	s.DownloadPercentage = percentage
	s.DownloadedBytes = downloadedBytes
	s.TotalBytes = totalBytes
	s.FailureReason = failureReason
	s.StopFlags = t.stopFlags
	s.NotMetRequirements = int(t.notMet)
	s.ManualStopReason = t.manualStopReason
	s.UpdateTime = t.m.now()
	t.snapshot = &s
	return &s
}

func (t *task) isFinished() bool { return t.state.IsTerminal() }

// isIdle reports whether no worker is expected to be running for the task.
func (t *task) isIdle() bool {
	return t.state != data.StateDownloading &&
		t.state != data.StateRemoving &&
		t.state != data.StateRestarting
}

// start re-attempts execution for the task's current state. Called once
// after initialization completes and whenever a download slot frees up.
func (t *task) start() {
	if t.state == data.StateQueued || t.state == data.StateDownloading {
		t.startOrQueue()
	} else if t.state == data.StateRemoving || t.state == data.StateRestarting {
		t.m.startWorker(t, t.action())
	}
}

func (t *task) setNotMetRequirements(notMet requirements.Flags) {
	t.notMet = notMet
	t.updateStopFlags(data.StopFlagRequirementsNotMet, notMet != 0)
}

func (t *task) setManualStopReason(manualStopReason int) {
	t.manualStopReason = manualStopReason
	t.updateStopFlags(data.StopFlagManual, true)
}

func (t *task) clearManualStopReason() {
	t.manualStopReason = 0
	t.updateStopFlags(data.StopFlagManual, false)
}

func (t *task) updateStopFlags(flags data.StopFlags, set bool) {
	if set {
		t.stopFlags |= flags
	} else {
		t.stopFlags &^= flags
	}
	if t.stopFlags != 0 {
		if t.state == data.StateDownloading || t.state == data.StateQueued {
			t.m.stopWorker(t)
			t.setState(data.StateStopped)
		}
	} else if t.state == data.StateStopped {
		t.startOrQueue()
	}
}

// initialize settles the task on a state after gating, then notifies once.
// The notification is held until the switches below stop moving the state
// so listeners never observe a state that was immediately superseded.
func (t *task) initialize(initialState data.State) {
	t.state = initialState
	if t.state == data.StateRemoving || t.state == data.StateRestarting {
		t.m.startWorker(t, t.action())
	} else if t.stopFlags != 0 {
		t.setState(data.StateStopped)
	} else {
		t.startOrQueue()
	}
	if t.state == initialState {
		t.m.onTaskStateChanged(t)
	}
}

func (t *task) startOrQueue() {
	if t.state == data.StateRemoving || t.state == data.StateRestarting {
		panic("offliner: startOrQueue called in removal state")
	}
	result := t.m.startWorker(t, t.action())
	if result == startWaitRemovalToFinish {
		panic("offliner: queued download waiting on removal")
	}
	if result == startSucceeded || result == startWaitDownloadCancellation {
		t.setState(data.StateDownloading)
	} else {
		t.setState(data.StateQueued)
	}
}

// action derives the action the task is currently executing or waiting on.
func (t *task) action() *data.Action {
	if t.state == data.StateRemoved {
		panic("offliner: no action for a removed task")
	}
	if t.state == data.StateRemoving || t.state == data.StateRestarting {
		return data.NewRemoveAction(t.snapshot.ID, t.snapshot.Type, t.snapshot.URI, t.snapshot.CacheKey)
	}
	return downloadActionFor(t.snapshot)
}

// appendActions contributes the task's pending actions to the persisted
// set: one action per task, plus the pending re-download for a restart.
func (t *task) appendActions(actions data.Actions) data.Actions {
	actions = append(actions, t.action())
	if t.state == data.StateRestarting {
		actions = append(actions, downloadActionFor(t.snapshot))
	}
	return actions
}

func (t *task) setState(newState data.State) {
	if t.state != newState {
		t.state = newState
		t.m.onTaskStateChanged(t)
	}
}

func (t *task) onWorkerStopped(canceled bool, err error) {
	if t.isIdle() {
		return
	}
	switch {
	case canceled:
		// The cancellation was a hand-off (stop, restart, or new removal);
		// run the action the task now wants.
		t.m.startWorker(t, t.action())
	case t.state == data.StateRestarting:
		t.initialize(data.StateQueued)
	case t.state == data.StateRemoving:
		if err != nil {
			t.m.log.Error("removal failed", "id", t.id(), "err", err)
			t.failureReason = data.FailureUnknown
			t.setState(data.StateFailed)
		} else {
			t.setState(data.StateRemoved)
		}
	default: // StateDownloading
		if err != nil {
			t.m.log.Error("download failed", "id", t.id(), "err", err)
			t.failureReason = data.FailureUnknown
			t.setState(data.StateFailed)
		} else {
			t.setState(data.StateCompleted)
		}
	}
}

func downloadActionFor(s *data.DownloadState) *data.Action {
	return data.NewDownloadAction(s.ID, s.Type, s.URI, s.CacheKey, s.StreamKeys, s.Data)
}
