// Package state tracks the lifecycle of a dataset update as a pure reducer
// over UpdateState and Action values.
package state

import (
	"time"

	"github.com/japaniel/kanjidb/pkg/download"
)

// Kind is the active variant of an UpdateState.
type Kind string

const (
	KindOffline  Kind = "offline"
	KindIdle     Kind = "idle"
	KindChecking Kind = "checking"
	KindUpdating Kind = "updating"
	KindError    Kind = "error"
)

// UpdateState is the observable state of an update. DownloadVersion and
// Progress are only set while updating, Err only in the error state.
type UpdateState struct {
	Kind            Kind
	DownloadVersion *download.Version
	// Progress is loaded/total, nil when the total size is unknown.
	Progress *float64
	Err      error
	// LastCheck is when a check last completed, nil if never.
	LastCheck *time.Time
}

// Idle returns the initial state.
func Idle() UpdateState {
	return UpdateState{Kind: KindIdle}
}

// Action drives Reduce.
type Action interface {
	isAction()
}

type (
	Offline     struct{}
	Online      struct{}
	StartUpdate struct{}

	StartDownload struct {
		Version download.Version
	}

	Progress struct {
		Loaded int64
		Total  int64
	}

	FinishDownload struct {
		Version download.Version
	}

	// Finish marks a completed check at CheckDate.
	Finish struct {
		CheckDate time.Time
	}

	// Abort ends a canceled update. CheckDate is nil when nothing was written
	// and the previous LastCheck should be kept.
	Abort struct {
		CheckDate *time.Time
	}

	Error struct {
		Err error
	}
)

func (Offline) isAction()        {}
func (Online) isAction()         {}
func (StartUpdate) isAction()    {}
func (StartDownload) isAction()  {}
func (Progress) isAction()       {}
func (FinishDownload) isAction() {}
func (Finish) isAction()         {}
func (Abort) isAction()          {}
func (Error) isAction()          {}

// Reduce returns the state that follows s after a. It never mutates s.
func Reduce(s UpdateState, a Action) UpdateState {
	switch a := a.(type) {
	case Offline:
		return UpdateState{Kind: KindOffline, LastCheck: s.LastCheck}

	case Online:
		if s.Kind != KindOffline {
			return s
		}
		return UpdateState{Kind: KindIdle, LastCheck: s.LastCheck}

	case StartUpdate:
		return UpdateState{Kind: KindChecking, LastCheck: s.LastCheck}

	case StartDownload:
		v := a.Version
		return UpdateState{
			Kind:            KindUpdating,
			DownloadVersion: &v,
			Progress:        ptr(0.0),
			LastCheck:       s.LastCheck,
		}

	case Progress:
		if s.Kind != KindUpdating {
			return s
		}
		next := s
		next.Progress = nil
		if a.Total > 0 {
			next.Progress = ptr(float64(a.Loaded) / float64(a.Total))
		}
		return next

	case FinishDownload:
		return UpdateState{Kind: KindChecking, LastCheck: s.LastCheck}

	case Finish:
		return UpdateState{Kind: KindIdle, LastCheck: ptr(a.CheckDate)}

	case Abort:
		lastCheck := s.LastCheck
		if a.CheckDate != nil {
			lastCheck = ptr(*a.CheckDate)
		}
		return UpdateState{Kind: KindIdle, LastCheck: lastCheck}

	case Error:
		return UpdateState{Kind: KindError, Err: a.Err, LastCheck: s.LastCheck}
	}
	return s
}

// String is used in logs and the status endpoint.
func (s UpdateState) String() string {
	switch s.Kind {
	case KindUpdating:
		if s.DownloadVersion != nil {
			return string(s.Kind) + " " + s.DownloadVersion.String()
		}
	case KindError:
		if s.Err != nil {
			return string(s.Kind) + ": " + s.Err.Error()
		}
	}
	return string(s.Kind)
}

func ptr[T any](v T) *T { return &v }
