package data

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// State is the lifecycle state of one download task.
type State int

const (
	StateQueued State = iota
	StateDownloading
	StateRemoving
	StateRestarting
	StateStopped
	StateFailed
	StateCompleted
	StateRemoved
)

var stateNames = map[State]string{
	StateQueued:      "Queued",
	StateDownloading: "Downloading",
	StateRemoving:    "Removing",
	StateRestarting:  "Restarting",
	StateStopped:     "Stopped",
	StateFailed:      "Failed",
	StateCompleted:   "Completed",
	StateRemoved:     "Removed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// IsTerminal reports whether no further transitions can occur.
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateCompleted || s == StateRemoved
}

func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for st, n := range stateNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown download state %q", name)
}

// StopFlags is a bitmask of reasons a task is held in StateStopped.
type StopFlags int

const (
	StopFlagManual StopFlags = 1 << iota
	StopFlagRequirementsNotMet
)

// FailureReason explains a StateFailed transition. It is FailureNone in
// every other state.
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureUnknown
)

const (
	// PercentageUnset marks an unknown download percentage.
	PercentageUnset float32 = -1
	// LengthUnset marks an unknown byte length.
	LengthUnset int64 = -1
)

// DownloadState is an immutable snapshot of one task, emitted to listeners
// and returned from queries.
type DownloadState struct {
	ID                 string        `json:"id"`
	Type               string        `json:"type"`
	URI                string        `json:"uri"`
	CacheKey           string        `json:"cacheKey,omitempty"`
	State              State         `json:"state"`
	DownloadPercentage float32       `json:"downloadPercentage"`
	DownloadedBytes    int64         `json:"downloadedBytes"`
	TotalBytes         int64         `json:"totalBytes"`
	FailureReason      FailureReason `json:"failureReason,omitempty"`
	StopFlags          StopFlags     `json:"stopFlags,omitempty"`
	NotMetRequirements int           `json:"notMetRequirements,omitempty"`
	ManualStopReason   int           `json:"manualStopReason,omitempty"`
	StartTime          time.Time     `json:"startTime"`
	UpdateTime         time.Time     `json:"updateTime"`
	StreamKeys         []StreamKey   `json:"streamKeys,omitempty"`
	Data               []byte        `json:"data,omitempty"`
}

// NewDownloadState derives the initial snapshot for an action. Remove
// actions begin in StateRemoving, download actions in StateQueued.
func NewDownloadState(a *Action, now time.Time) *DownloadState {
	state := StateQueued
	if a.IsRemove {
		state = StateRemoving
	}
	return &DownloadState{
		ID:                 a.ID,
		Type:               a.Type,
		URI:                a.URI,
		CacheKey:           a.CacheKey,
		State:              state,
		DownloadPercentage: PercentageUnset,
		TotalBytes:         LengthUnset,
		StartTime:          now,
		UpdateTime:         now,
		StreamKeys:         cloneKeys(a.StreamKeys),
		Data:               append([]byte(nil), a.Data...),
	}
}

type DownloadStates []*DownloadState

func (d DownloadStates) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

func (d *DownloadState) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }
