// Package kanjidb keeps a local copy of the kanji and radical datasets up to
// date and answers lookups that join the two.
package kanjidb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/japaniel/kanjidb/pkg/db"
	"github.com/japaniel/kanjidb/pkg/download"
	"github.com/japaniel/kanjidb/pkg/state"
	"github.com/japaniel/kanjidb/pkg/update"
)

// DefaultBaseURL is where the published datasets live.
const DefaultBaseURL = "https://d907hooix29fi.cloudfront.net"

// State is the lifecycle state of the local database.
type State string

const (
	StateInitializing State = "initializing"
	StateEmpty        State = "empty"
	// StateOutOfDate is reserved; nothing produces it yet.
	StateOutOfDate State = "outofdate"
	StateOk        State = "ok"
)

// Topic names what a Change is about.
type Topic string

const (
	TopicState       Topic = "state"
	TopicUpdateState Topic = "updatestate"
)

// Change is passed to OnChange listeners.
type Change struct {
	Topic Topic
}

// Versions holds the stored version of each dataset, nil if absent.
type Versions struct {
	Kanji    *db.DatabaseVersion `json:"kanji"`
	Radicals *db.DatabaseVersion `json:"radicals"`
}

// Options configures Open.
type Options struct {
	// Path of the SQLite file; db.MemoryPath for a private in-memory database.
	Path    string
	BaseURL string
	Lang    string
	Client  *http.Client
	Logger  *zap.Logger
}

type run struct {
	id     string
	cancel context.CancelFunc
}

// Database is the façade over the local kanji and radical tables.
type Database struct {
	store  *db.Store
	engine *update.Engine
	opts   Options
	logger *zap.Logger
	sf     singleflight.Group

	mu          sync.RWMutex
	state       State
	versions    Versions
	updateState state.UpdateState
	listeners   map[int]func(Change)
	nextID      int

	ready chan struct{}

	runMu sync.Mutex
	run   *run
}

const updateKey = "update"

// Open opens the database at opts.Path. The stored versions are read in the
// background; Ready is closed once that lookup finished.
func Open(ctx context.Context, opts Options) (*Database, error) {
	if opts.Path == "" {
		opts.Path = db.MemoryPath
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	store, err := db.Open(opts.Path, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := &Database{
		store:       store,
		engine:      update.NewEngine(opts.Logger),
		opts:        opts,
		logger:      opts.Logger,
		state:       StateInitializing,
		updateState: state.Idle(),
		listeners:   make(map[int]func(Change)),
		ready:       make(chan struct{}),
	}

	go func() {
		defer close(d.ready)
		if err := d.refreshVersions(ctx); err != nil {
			d.logger.Error("failed to read stored versions", zap.Error(err))
			d.setState(StateEmpty)
		}
	}()
	return d, nil
}

// Ready is closed once the initial version lookup has finished.
func (d *Database) Ready() <-chan struct{} { return d.ready }

func (d *Database) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Database) Versions() Versions {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.versions
}

func (d *Database) UpdateState() state.UpdateState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.updateState
}

// OnChange registers fn to be called after the state or update state changed.
// The returned function removes the listener.
func (d *Database) OnChange(fn func(Change)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

func (d *Database) emit(topic Topic) {
	d.mu.RLock()
	fns := make([]func(Change), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.RUnlock()
	for _, fn := range fns {
		fn(Change{Topic: topic})
	}
}

func (d *Database) setState(s State) {
	d.mu.Lock()
	changed := d.state != s
	d.state = s
	d.mu.Unlock()
	if changed {
		d.emit(TopicState)
	}
}

// dispatch feeds an action through the update state reducer.
func (d *Database) dispatch(a state.Action) {
	d.mu.Lock()
	d.updateState = state.Reduce(d.updateState, a)
	d.mu.Unlock()
	d.emit(TopicUpdateState)
}

// SetOnline reports network availability.
func (d *Database) SetOnline(online bool) {
	if online {
		d.dispatch(state.Online{})
	} else {
		d.dispatch(state.Offline{})
	}
}

func (d *Database) refreshVersions(ctx context.Context) error {
	conn := d.store.DB()
	kanji, err := db.GetVersion(ctx, conn, db.KanjiVersionID)
	if err != nil {
		return err
	}
	radicals, err := db.GetVersion(ctx, conn, db.RadicalVersionID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.versions = Versions{Kanji: kanji, Radicals: radicals}
	d.mu.Unlock()

	if kanji != nil && radicals != nil {
		d.setState(StateOk)
	} else {
		d.setState(StateEmpty)
	}
	return nil
}

// Update brings both datasets up to date, kanji first. Concurrent calls
// share one run. It returns update.ErrUpdateCanceled if CancelUpdate
// interrupted the run. If ctx ends first the caller stops waiting but the
// run continues.
func (d *Database) Update(ctx context.Context) error {
	ch := d.sf.DoChan(updateKey, func() (any, error) {
		runCtx, cancel := context.WithCancel(context.Background())
		r := &run{id: uuid.NewString(), cancel: cancel}
		d.runMu.Lock()
		d.run = r
		d.runMu.Unlock()

		defer func() {
			cancel()
			d.runMu.Lock()
			if d.run == r {
				d.run = nil
			}
			d.runMu.Unlock()
		}()

		logger := d.logger.With(zap.String("update_id", r.id))
		logger.Info("update started")
		start := time.Now()

		err := updateDataset(runCtx, d, logger, download.Kanji, update.KanjiTarget(d.store, d.opts.Lang), func(v Versions) *db.DatabaseVersion { return v.Kanji })
		if err == nil {
			err = updateDataset(runCtx, d, logger, download.Radicals, update.RadicalTarget(d.store, d.opts.Lang), func(v Versions) *db.DatabaseVersion { return v.Radicals })
		}
		if err != nil {
			logger.Warn("update ended", zap.Error(err), zap.Duration("took", time.Since(start)))
			return nil, err
		}
		logger.Info("update finished", zap.Duration("took", time.Since(start)))
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func updateDataset[E, D, R any](
	ctx context.Context,
	d *Database,
	logger *zap.Logger,
	ds download.Dataset[E, D],
	target update.Target[E, D, R],
	stored func(Versions) *db.DatabaseVersion,
) error {
	logger = logger.With(zap.String("dataset", ds.Name))

	select {
	case <-d.ready:
	case <-ctx.Done():
	}
	if ctx.Err() != nil {
		d.dispatch(state.Abort{})
		return update.ErrUpdateCanceled
	}

	checkDate := time.Now()
	d.dispatch(state.StartUpdate{})

	before := stored(d.Versions())
	var current *download.Version
	if before != nil {
		current = &download.Version{
			Major:           before.Major,
			Minor:           before.Minor,
			Patch:           before.Patch,
			DatabaseVersion: before.DatabaseVersion,
			DateOfCreation:  before.DateOfCreation,
		}
	}

	stream := download.Download(ctx, ds, download.Options{
		BaseURL:        d.opts.BaseURL,
		Lang:           d.opts.Lang,
		CurrentVersion: current,
		Client:         d.opts.Client,
		Logger:         logger,
	})
	err := update.Apply(ctx, d.engine, stream, target, d.dispatch)

	// Versions finalized before a failure stay committed.
	if rerr := d.refreshVersions(context.WithoutCancel(ctx)); rerr != nil {
		logger.Error("failed to read stored versions", zap.Error(rerr))
	}

	if errors.Is(err, update.ErrUpdateCanceled) || ctx.Err() != nil {
		abort := state.Abort{}
		if after := stored(d.Versions()); after != nil && (before == nil || *after != *before) {
			abort.CheckDate = &checkDate
		}
		d.dispatch(abort)
		logger.Info("update aborted")
		return update.ErrUpdateCanceled
	}
	if err != nil {
		d.dispatch(state.Error{Err: err})
		return err
	}

	d.dispatch(state.Finish{CheckDate: checkDate})
	return nil
}

// CancelUpdate stops the running update and reports whether there was one.
// It does not wait for the update to wind down.
func (d *Database) CancelUpdate() bool {
	d.runMu.Lock()
	r := d.run
	d.run = nil
	d.runMu.Unlock()
	if r == nil {
		return false
	}

	d.sf.Forget(updateKey)
	r.cancel()
	d.engine.Cancel(update.KanjiKey)
	d.engine.Cancel(update.RadicalKey)
	d.logger.Info("update cancel requested", zap.String("update_id", r.id))
	return true
}

// Destroy cancels any running update, wipes storage and resets in-memory state.
func (d *Database) Destroy(ctx context.Context) error {
	d.CancelUpdate()
	select {
	case <-d.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := d.store.Destroy(); err != nil {
		return fmt.Errorf("destroy store: %w", err)
	}

	d.mu.Lock()
	d.versions = Versions{}
	d.updateState = state.Idle()
	d.mu.Unlock()

	d.setState(StateEmpty)
	d.emit(TopicUpdateState)
	return nil
}

// Close cancels any running update and closes the store.
func (d *Database) Close() error {
	d.CancelUpdate()
	<-d.ready
	return d.store.Close()
}
