package kanjidb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/japaniel/kanjidb/pkg/db"
	"github.com/japaniel/kanjidb/pkg/download"
	"github.com/japaniel/kanjidb/pkg/state"
	"github.com/japaniel/kanjidb/pkg/update"
)

const (
	manifest    = `{"major":1,"minor":0,"patch":0,"snapshot":0,"databaseVersion":"175","dateOfCreation":"2019-07-09"}`
	versionLine = `{"type":"version","major":1,"minor":0,"patch":0,"databaseVersion":"175","dateOfCreation":"2019-07-09"}`
)

var kanjiSnapshot = strings.Join([]string{
	versionLine,
	`{"c":"日","r":{"on":["ニチ"],"kun":["ひ"]},"m":["day","sun"],"rad":{"x":72},"refs":{"nelson_c":2097},"misc":{"sc":4,"gr":1}}`,
	`{"c":"情","r":{"on":["ジョウ"]},"m":["feelings"],"rad":{"x":61,"var":"hen"},"refs":{},"misc":{"sc":11}}`,
	`{"c":"本","r":{"on":["ホン"]},"m":["book"],"rad":{"x":75},"refs":{},"misc":{"sc":5}}`,
}, "\n")

var radicalSnapshot = strings.Join([]string{
	versionLine,
	`{"id":"072","r":72,"b":"日","k":"日","s":4,"na":["ひ"],"m":["sun"]}`,
	`{"id":"061","r":61,"b":"心","k":"心","s":4,"na":["こころ"],"m":["heart"]}`,
	`{"id":"061-hen","r":61,"b":"⺖","s":3,"na":["りっしんべん"],"m":["heart (left)"]}`,
}, "\n")

type dataServer struct {
	*httptest.Server
	mu        sync.Mutex
	files     map[string]string
	fetches   map[string]int
	snapshots atomic.Int32
	// block, if set, is waited on before serving a snapshot body.
	block chan struct{}
}

func newDataServer(t *testing.T) *dataServer {
	t.Helper()
	s := &dataServer{
		files: map[string]string{
			"/kanji-rc-en-version.json":       manifest,
			"/kanji-rc-en-1.0.0-full.ljson":    kanjiSnapshot,
			"/radicals-rc-en-version.json":    manifest,
			"/radicals-rc-en-1.0.0-full.ljson": radicalSnapshot,
		},
		fetches: map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.fetches[r.URL.Path]++
		body, ok := s.files[r.URL.Path]
		block := s.block
		s.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".ljson") {
			s.snapshots.Add(1)
			if block != nil {
				select {
				case <-block:
				case <-r.Context().Done():
					return
				}
			}
		}
		io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *dataServer) remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
}

func (s *dataServer) fetchCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[path]
}

func openTestDB(t *testing.T, baseURL string, logger *zap.Logger) *Database {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	d, err := Open(context.Background(), Options{BaseURL: baseURL, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	<-d.Ready()
	return d
}

func TestOpen_StartsEmpty(t *testing.T) {
	d := openTestDB(t, "http://unused.invalid", nil)
	assert.Equal(t, StateEmpty, d.State())
	assert.Equal(t, Versions{}, d.Versions())
	assert.Equal(t, state.KindIdle, d.UpdateState().Kind)
}

func TestUpdate_BothDatasets(t *testing.T) {
	srv := newDataServer(t)
	d := openTestDB(t, srv.URL, nil)

	var mu sync.Mutex
	var kinds []state.Kind
	d.OnChange(func(c Change) {
		if c.Topic == TopicUpdateState {
			mu.Lock()
			kinds = append(kinds, d.UpdateState().Kind)
			mu.Unlock()
		}
	})

	require.NoError(t, d.Update(context.Background()))

	assert.Equal(t, StateOk, d.State())
	want := &db.DatabaseVersion{Major: 1, Minor: 0, Patch: 0, DatabaseVersion: "175", DateOfCreation: "2019-07-09", Lang: "en"}
	assert.Equal(t, want, d.Versions().Kanji)
	assert.Equal(t, want, d.Versions().Radicals)

	us := d.UpdateState()
	assert.Equal(t, state.KindIdle, us.Kind)
	require.NotNil(t, us.LastCheck)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, kinds, state.KindChecking)
	assert.Contains(t, kinds, state.KindUpdating)
	assert.Equal(t, state.KindIdle, kinds[len(kinds)-1])
}

func TestUpdate_SingleDatasetStaysEmpty(t *testing.T) {
	srv := newDataServer(t)
	srv.files["/kanji-rc-en-1.0.0-full.ljson"] = versionLine
	srv.remove("/radicals-rc-en-version.json")
	d := openTestDB(t, srv.URL, nil)

	err := d.Update(context.Background())
	require.Error(t, err)
	assert.True(t, download.IsCode(err, download.VersionFileNotFound))

	assert.Equal(t, StateEmpty, d.State())
	require.NotNil(t, d.Versions().Kanji)
	assert.Equal(t, "175", d.Versions().Kanji.DatabaseVersion)
	assert.Nil(t, d.Versions().Radicals)
}

func TestUpdate_ManifestNotFound(t *testing.T) {
	srv := newDataServer(t)
	srv.remove("/kanji-rc-en-version.json")
	d := openTestDB(t, srv.URL, nil)

	err := d.Update(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, &download.DownloadError{Code: download.VersionFileNotFound})

	us := d.UpdateState()
	assert.Equal(t, state.KindError, us.Kind)
	assert.True(t, download.IsCode(us.Err, download.VersionFileNotFound))

	// The kanji failure stops the radicals update.
	assert.Zero(t, srv.fetchCount("/radicals-rc-en-version.json"))
}

func TestUpdate_UpToDateIsNoop(t *testing.T) {
	srv := newDataServer(t)
	d := openTestDB(t, srv.URL, nil)
	require.NoError(t, d.Update(context.Background()))
	require.Equal(t, int32(2), srv.snapshots.Load())

	require.NoError(t, d.Update(context.Background()))
	assert.Equal(t, int32(2), srv.snapshots.Load())
	assert.Equal(t, StateOk, d.State())
}

func TestUpdate_ConcurrentCallsShareOneRun(t *testing.T) {
	srv := newDataServer(t)
	srv.block = make(chan struct{})
	d := openTestDB(t, srv.URL, nil)

	errs := make(chan error, 2)
	go func() { errs <- d.Update(context.Background()) }()
	require.Eventually(t, func() bool { return srv.snapshots.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	go func() { errs <- d.Update(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	close(srv.block)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, 1, srv.fetchCount("/kanji-rc-en-1.0.0-full.ljson"))
	assert.Equal(t, 1, srv.fetchCount("/radicals-rc-en-1.0.0-full.ljson"))
}

func TestCancelUpdate(t *testing.T) {
	srv := newDataServer(t)
	srv.block = make(chan struct{})
	defer close(srv.block)
	d := openTestDB(t, srv.URL, nil)

	assert.False(t, d.CancelUpdate(), "nothing to cancel")

	errs := make(chan error, 1)
	go func() { errs <- d.Update(context.Background()) }()
	require.Eventually(t, func() bool { return srv.snapshots.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, d.CancelUpdate())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, update.ErrUpdateCanceled)
	case <-time.After(3 * time.Second):
		t.Fatal("update did not stop")
	}

	assert.Equal(t, StateEmpty, d.State())
	us := d.UpdateState()
	assert.Equal(t, state.KindIdle, us.Kind)
	assert.Nil(t, us.LastCheck, "nothing was written")
	assert.Zero(t, srv.fetchCount("/radicals-rc-en-version.json"))
}

func TestGetKanji(t *testing.T) {
	srv := newDataServer(t)
	core, logs := observer.New(zap.ErrorLevel)
	d := openTestDB(t, srv.URL, zap.New(core))

	got, err := d.GetKanji(context.Background(), []string{"日"})
	require.NoError(t, err)
	assert.Empty(t, got, "nothing is returned before the database is ready")

	require.NoError(t, d.Update(context.Background()))

	got, err = d.GetKanji(context.Background(), []string{"本", "猫", "日", "情"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	byChar := map[string]KanjiResult{}
	for _, r := range got {
		byChar[r.Char] = r
	}

	sun := byChar["日"]
	assert.Equal(t, []string{"day", "sun"}, sun.M)
	assert.Equal(t, "日", sun.Rad.B)
	assert.Equal(t, []string{"sun"}, sun.Rad.M)
	assert.Nil(t, sun.Rad.Base)

	feel := byChar["情"]
	assert.Equal(t, "⺖", feel.Rad.B)
	require.NotNil(t, feel.Rad.Base)
	assert.Equal(t, "心", feel.Rad.Base.B)
	assert.Equal(t, []string{"heart"}, feel.Rad.Base.M)

	// Radical 075 is not in the radicals table.
	book := byChar["本"]
	assert.Equal(t, replacementGlyph, book.Rad.B)
	assert.Equal(t, replacementGlyph, book.Rad.K)
	assert.Equal(t, []string{""}, book.Rad.Na)
	assert.Equal(t, "en", book.Rad.MLang)
	assert.Equal(t, 1, logs.FilterMessage("radical not found").Len())
}

func TestDestroy(t *testing.T) {
	srv := newDataServer(t)
	d := openTestDB(t, srv.URL, nil)
	require.NoError(t, d.Update(context.Background()))
	require.Equal(t, StateOk, d.State())

	require.NoError(t, d.Destroy(context.Background()))
	assert.Equal(t, StateEmpty, d.State())
	assert.Equal(t, Versions{}, d.Versions())
	assert.Equal(t, state.Idle(), d.UpdateState())

	got, err := d.GetKanji(context.Background(), []string{"日"})
	require.NoError(t, err)
	assert.Empty(t, got)

	// The store is usable again after a wipe.
	require.NoError(t, d.Update(context.Background()))
	assert.Equal(t, StateOk, d.State())
}

func TestSetOnline(t *testing.T) {
	d := openTestDB(t, "http://unused.invalid", nil)

	d.SetOnline(false)
	assert.Equal(t, state.KindOffline, d.UpdateState().Kind)
	d.SetOnline(true)
	assert.Equal(t, state.KindIdle, d.UpdateState().Kind)
}

func TestOnChange_Unsubscribe(t *testing.T) {
	d := openTestDB(t, "http://unused.invalid", nil)

	var calls atomic.Int32
	off := d.OnChange(func(Change) { calls.Add(1) })
	d.SetOnline(false)
	off()
	d.SetOnline(true)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpdate_CallerContext(t *testing.T) {
	srv := newDataServer(t)
	srv.block = make(chan struct{})
	d := openTestDB(t, srv.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Update(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// The run keeps going for other callers.
	close(srv.block)
	require.NoError(t, d.Update(context.Background()))
	assert.Equal(t, StateOk, d.State())
}
