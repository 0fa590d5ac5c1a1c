package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/japaniel/kanjidb/pkg/db"
	"github.com/japaniel/kanjidb/pkg/download"
	"github.com/japaniel/kanjidb/pkg/kanjidb"
	"github.com/japaniel/kanjidb/pkg/state"
	"github.com/japaniel/kanjidb/pkg/update"
)

// mockService is a mock implementation of Service
type mockService struct {
	state       kanjidb.State
	versions    kanjidb.Versions
	updateState state.UpdateState
	updateErr   error
	canceled    bool
	destroyErr  error
	results     []kanjidb.KanjiResult
	lookupErr   error

	lookedUp  []string
	destroyed bool
}

func (m *mockService) State() kanjidb.State              { return m.state }
func (m *mockService) Versions() kanjidb.Versions        { return m.versions }
func (m *mockService) UpdateState() state.UpdateState    { return m.updateState }
func (m *mockService) Update(ctx context.Context) error  { return m.updateErr }
func (m *mockService) CancelUpdate() bool                { return m.canceled }
func (m *mockService) Destroy(ctx context.Context) error { m.destroyed = true; return m.destroyErr }

func (m *mockService) GetKanji(ctx context.Context, chars []string) ([]kanjidb.KanjiResult, error) {
	m.lookedUp = chars
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	return m.results, nil
}

func serve(t *testing.T, svc Service, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	NewHandler(svc, zap.NewNop()).Router().ServeHTTP(rec, req)
	return rec
}

func TestGetStatus(t *testing.T) {
	progress := 0.5
	svc := &mockService{
		state: kanjidb.StateOk,
		versions: kanjidb.Versions{
			Kanji: &db.DatabaseVersion{Major: 1, DatabaseVersion: "175", Lang: "en"},
		},
		updateState: state.UpdateState{
			Kind:            state.KindUpdating,
			DownloadVersion: &download.Version{Major: 1},
			Progress:        &progress,
		},
	}

	rec := serve(t, svc, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, kanjidb.StateOk, body.State)
	assert.Equal(t, "175", body.Versions.Kanji.DatabaseVersion)
	assert.Nil(t, body.Versions.Radicals)
	assert.Equal(t, state.KindUpdating, body.Update.State)
	require.NotNil(t, body.Update.Progress)
	assert.Equal(t, 0.5, *body.Update.Progress)
}

func TestGetKanji(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		svc        *mockService
		wantStatus int
		wantChars  []string
	}{
		{
			name:       "success",
			target:     "/api/v1/kanji?c=%E6%97%A5&c=%E6%9C%AC",
			svc:        &mockService{results: []kanjidb.KanjiResult{{Char: "日"}}},
			wantStatus: http.StatusOK,
			wantChars:  []string{"日", "本"},
		},
		{
			name:       "missing parameter",
			target:     "/api/v1/kanji",
			svc:        &mockService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "lookup error",
			target:     "/api/v1/kanji?c=%E6%97%A5",
			svc:        &mockService{lookupErr: errors.New("database is locked")},
			wantStatus: http.StatusInternalServerError,
			wantChars:  []string{"日"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.svc, http.MethodGet, tt.target)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantChars, tt.svc.lookedUp)
		})
	}
}

func TestPostUpdate(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "success", wantStatus: http.StatusOK},
		{name: "canceled", err: update.ErrUpdateCanceled, wantStatus: http.StatusConflict},
		{
			name:       "download error",
			err:        &download.DownloadError{Code: download.VersionFileNotFound, URL: "http://example.com/v.json"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "VersionFileNotFound",
		},
		{name: "incremental", err: download.ErrIncrementalUnsupported, wantStatus: http.StatusBadGateway},
		{name: "overlapping", err: update.ErrOverlappingUpdate, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &mockService{updateErr: tt.err}, http.MethodPost, "/api/v1/update")
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				var body map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}
}

func TestPostCancelUpdate(t *testing.T) {
	rec := serve(t, &mockService{canceled: true}, http.MethodPost, "/api/v1/update/cancel")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"canceled":true}`, rec.Body.String())
}

func TestDeleteDatabase(t *testing.T) {
	svc := &mockService{}
	rec := serve(t, svc, http.MethodDelete, "/api/v1/database")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, svc.destroyed)

	rec = serve(t, &mockService{destroyErr: errors.New("read-only file system")}, http.MethodDelete, "/api/v1/database")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	NewHandler(&mockService{}, nil).Router().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
