package indexer

import (
	"errors"
	"fmt"
	"time"
)

// ErrIndexBusy is returned when a build is requested while one is running.
var ErrIndexBusy = errors.New("index build already in progress")

// ErrSuperseded is returned by a build whose collection changed before it finished.
var ErrSuperseded = errors.New("index discarded during build")

// State is the lifecycle state of an Indexer.
type State int

const (
	StateUninitialized State = iota
	StateModelLoading
	StateSnapshotCheck
	StateIndexing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateModelLoading:
		return "model_loading"
	case StateSnapshotCheck:
		return "snapshot_check"
	case StateIndexing:
		return "indexing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateUninitialized; st <= StateReady; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown index state %q", text)
}

// Sources of a ready index.
const (
	SourceSnapshot = "snapshot"
	SourceRebuild  = "rebuild"
)

// Progress is reported while a build runs. Processed never decreases within a build.
type Progress struct {
	EntityType string `json:"entity_type"`
	State      State  `json:"state"`
	Processed  int    `json:"processed"`
	Total      int    `json:"total"`
	Done       bool   `json:"done"`
	Error      string `json:"error,omitempty"`
}

// ProgressFunc receives progress reports. It runs on the building goroutine
// and must not block.
type ProgressFunc func(Progress)

// Status describes the index for display.
type Status struct {
	EntityType string    `json:"entity_type"`
	State      State     `json:"state"`
	Building   bool      `json:"building"`
	Records    int       `json:"records"`
	Processed  int       `json:"processed"`
	Total      int       `json:"total"`
	Source     string    `json:"source,omitempty"`
	Generation string    `json:"generation,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}
