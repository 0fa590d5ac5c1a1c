// Package update applies a stream of download events to local storage one
// version at a time.
package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/japaniel/kanjidb/pkg/download"
	"github.com/japaniel/kanjidb/pkg/state"
)

var (
	// ErrOverlappingUpdate is returned when an update for the same target is
	// already running. Updates are never queued.
	ErrOverlappingUpdate = errors.New("overlapping update")
	// ErrUpdateCanceled reports that the update was canceled. Versions
	// finalized before the cancellation stay committed.
	ErrUpdateCanceled = errors.New("update canceled")
)

// Source is a pull-based sequence of download events. Next returns io.EOF at
// the end. *download.Stream implements it.
type Source interface {
	Next() (download.Event, error)
	Close() error
}

// Target binds a dataset to the storage it is written to.
type Target[E, D, R any] struct {
	// Key identifies the storage target. At most one update per key runs at
	// a time.
	Key      string
	ToRecord func(E) (R, error)
	// Commit writes a finalized batch in one transaction.
	Commit func(ctx context.Context, b Batch[D, R]) error
}

type reader struct {
	src      Source
	cancel   context.CancelFunc
	canceled atomic.Bool
}

// Engine tracks the readers currently applying updates, keyed by target.
type Engine struct {
	mu      sync.Mutex
	readers map[string]*reader
	logger  *zap.Logger
}

// NewEngine creates an engine. A nil logger disables logging.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{readers: make(map[string]*reader), logger: logger}
}

func (e *Engine) acquire(key string, src Source, cancel context.CancelFunc) (*reader, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.readers[key]; busy {
		return nil, fmt.Errorf("%w: %s", ErrOverlappingUpdate, key)
	}
	r := &reader{src: src, cancel: cancel}
	e.readers[key] = r
	return r, nil
}

func (e *Engine) release(key string, r *reader) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readers[key] == r {
		delete(e.readers, key)
	}
}

// InProgress reports whether an update is running for key.
func (e *Engine) InProgress(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.readers[key]
	return ok
}

// Cancel stops the reader for key and reports whether there was one. It
// does not wait for Apply to return.
func (e *Engine) Cancel(key string) bool {
	e.mu.Lock()
	r, ok := e.readers[key]
	if ok {
		delete(e.readers, key)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	r.canceled.Store(true)
	r.cancel()
	if err := r.src.Close(); err != nil {
		e.logger.Warn("failed to close update source", zap.String("target", key), zap.Error(err))
	}
	e.logger.Info("update canceled", zap.String("target", key))
	return true
}

// Apply reads src to the end and writes each version to target. Records are
// buffered per version; a version is finalized when the next version line
// arrives or the stream ends. notify receives lifecycle and progress actions
// and may be nil.
//
// On error or cancellation the version being buffered is dropped, but
// versions finalized earlier in the stream remain committed.
func Apply[E, D, R any](ctx context.Context, e *Engine, src Source, target Target[E, D, R], notify func(state.Action)) error {
	if notify == nil {
		notify = func(state.Action) {}
	}
	logger := e.logger.With(zap.String("target", target.Key))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r, err := e.acquire(target.Key, src, cancel)
	if err != nil {
		return err
	}
	defer e.release(target.Key, r)
	defer src.Close()

	canceled := func() bool {
		return r.canceled.Load() || ctx.Err() != nil
	}

	var current *versionBatch[D, R]
	finalize := func() error {
		if current == nil {
			return nil
		}
		b := current.take()
		current = nil

		notify(state.FinishDownload{Version: b.Version})
		start := time.Now()
		// A started commit always runs to completion.
		if err := target.Commit(context.WithoutCancel(ctx), b); err != nil {
			return fmt.Errorf("commit %s version %s: %w", target.Key, b.Version, err)
		}
		logger.Info("version committed",
			zap.String("version", b.Version.String()),
			zap.Bool("full", b.Full),
			zap.Int("records", len(b.Records)),
			zap.Int("deletions", len(b.Deletions)),
			zap.Duration("took", time.Since(start)),
		)
		return nil
	}

	for {
		if canceled() {
			return dropped(logger, current, ErrUpdateCanceled)
		}

		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if canceled() {
				return dropped(logger, current, ErrUpdateCanceled)
			}
			return dropped(logger, current, err)
		}
		if canceled() {
			return dropped(logger, current, ErrUpdateCanceled)
		}

		switch ev := ev.(type) {
		case download.VersionEvent:
			if err := finalize(); err != nil {
				return err
			}
			current = newVersionBatch[D, R](ev.Version)
			notify(state.StartDownload{Version: ev.Version})

		case download.EntryEvent[E]:
			if current == nil {
				return &download.DownloadError{Code: download.DatabaseFileVersionMissing}
			}
			rec, err := target.ToRecord(ev.Entry)
			if err != nil {
				return dropped(logger, current, fmt.Errorf("convert %s record: %w", target.Key, err))
			}
			if err := current.put(rec); err != nil {
				return err
			}

		case download.DeletionEvent[D]:
			if current == nil {
				return &download.DownloadError{Code: download.DatabaseFileVersionMissing}
			}
			if err := current.delete(ev.Deletion); err != nil {
				return dropped(logger, current, err)
			}

		case download.ProgressEvent:
			notify(state.Progress{Loaded: ev.Loaded, Total: ev.Total})

		default:
			return fmt.Errorf("unexpected event %T for %s", ev, target.Key)
		}
	}

	if canceled() {
		return dropped(logger, current, ErrUpdateCanceled)
	}
	return finalize()
}

func dropped[D, R any](logger *zap.Logger, vb *versionBatch[D, R], err error) error {
	if vb != nil && vb.size() > 0 {
		logger.Warn("discarding unfinalized version",
			zap.String("version", vb.b.Version.String()),
			zap.Int("buffered", vb.size()),
			zap.Error(err),
		)
	}
	return err
}
