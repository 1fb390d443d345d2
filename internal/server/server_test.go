package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/pegtmpl/internal/engine"
	"github.com/leapstack-labs/pegtmpl/internal/metrics"
	"github.com/leapstack-labs/pegtmpl/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sumTemplate = `/*---
name: sum
allowed_start_rules: [num]
---*/
sum = a:num "+" b:num {{ lambda ctx, a, b: a + b }}
num = d:$[0-9]+ {{ lambda ctx, d: int(d) }}
`

func setup(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sum.pegt"), []byte(sumTemplate), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.pegt"), []byte(`start = "x" {{ nope }}`), 0o600))

	logger := testutil.NewTestLogger(t)
	collector := metrics.NewCollector(metrics.Config{})
	eng, err := engine.New(context.Background(), engine.Config{Logger: logger, Metrics: collector})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	s := New(Config{Engine: eng, Metrics: collector, Paths: []string{dir}, Logger: logger})
	require.NoError(t, s.Load(context.Background(), "test"))
	return s, dir
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestServer_Load(t *testing.T) {
	s, _ := setup(t)
	assert.Equal(t, []string{"sum"}, s.Names())

	_, ok := s.Grammar("sum")
	assert.True(t, ok)
	_, ok = s.Grammar("bad")
	assert.False(t, ok)
}

func TestServer_ListAndGet(t *testing.T) {
	s, dir := setup(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/grammars", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []GrammarInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, filepath.Join(dir, "bad.pegt"), list[0].Path)
	assert.Equal(t, engine.KindResolve, list[0].Kind)
	assert.Equal(t, "sum", list[1].Name)
	assert.Equal(t, []string{"sum", "num"}, list[1].StartRules)
	assert.Equal(t, 2, list[1].Actions)

	rec = do(t, h, http.MethodGet, "/api/grammars/sum", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var gi GrammarInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gi))
	assert.Contains(t, gi.Grammar, "return action0(ctx, a, b)")

	rec = do(t, h, http.MethodGet, "/api/grammars/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Parse(t *testing.T) {
	s, _ := setup(t)
	h := s.Handler()

	tests := []struct {
		name   string
		req    ParseRequest
		status int
		result any
		kind   string
	}{
		{"sum", ParseRequest{Input: "40+2"}, http.StatusOK, float64(42), ""},
		{"start rule", ParseRequest{Input: "7", StartRule: "num"}, http.StatusOK, float64(7), ""},
		{"syntax error", ParseRequest{Input: "40+"}, http.StatusUnprocessableEntity, nil, engine.KindParse},
		{"bad start rule", ParseRequest{Input: "7", StartRule: "nope"}, http.StatusBadRequest, nil, engine.KindStartRule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/grammars/sum/parse", tt.req)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			var resp ParseResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.result, resp.Result)
			assert.Equal(t, tt.kind, resp.Kind)
			if tt.kind == engine.KindParse {
				require.NotNil(t, resp.Pos)
				assert.Equal(t, 4, resp.Pos.Column)
			}
		})
	}
}

func TestServer_ParseBadBody(t *testing.T) {
	s, _ := setup(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/grammars/sum/parse", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ReloadNotifies(t *testing.T) {
	s, dir := setup(t)
	ch := s.Notifier().Subscribe()
	defer s.Notifier().Unsubscribe(ch)

	require.NoError(t, os.Remove(filepath.Join(dir, "bad.pegt")))
	rec := do(t, s.Handler(), http.MethodPost, "/api/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case ev := <-ch:
		assert.Equal(t, 1, ev.Grammars)
		assert.Equal(t, 0, ev.Failed)
		assert.Equal(t, "api", ev.Trigger)
	case <-time.After(time.Second):
		t.Fatal("no reload event")
	}
}

func TestServer_LoadReloadsLibraries(t *testing.T) {
	dir := t.TempDir()
	actionsDir := filepath.Join(dir, "actions")
	require.NoError(t, os.MkdirAll(actionsDir, 0o750))
	writeLib := func(v string) {
		src := "def f(ctx):\n    return '" + v + "'\n"
		require.NoError(t, os.WriteFile(filepath.Join(actionsDir, "lib.star"), []byte(src), 0o600))
	}
	writeLib("v1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t.pegt"), []byte(`start = "x" {{ lib.f }}`), 0o600))

	logger := testutil.NewTestLogger(t)
	eng, err := engine.New(context.Background(), engine.Config{ActionsDir: actionsDir, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	s := New(Config{Engine: eng, Paths: []string{dir}, Logger: logger})

	parse := func() any {
		t.Helper()
		res, ok := s.Grammar("t")
		require.True(t, ok)
		v, err := eng.Parse(context.Background(), res, "x", nil)
		require.NoError(t, err)
		return v
	}

	require.NoError(t, s.Load(context.Background(), "test"))
	assert.Equal(t, "v1", parse())

	writeLib("v2")
	require.NoError(t, s.Load(context.Background(), filepath.Join(actionsDir, "lib.star")))
	assert.Equal(t, "v2", parse())
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s, _ := setup(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	do(t, h, http.MethodPost, "/api/grammars/sum/parse", ParseRequest{Input: "1+1"})
	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pegtmpl_parsers_loaded 1")
	assert.Contains(t, rec.Body.String(), `pegtmpl_parses_total{status="success",template="sum"} 1`)
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "a.pegt", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "lib.star", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "a.pegt", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "notes.md", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.event.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.event))
		})
	}
}

func TestServer_WatchDirs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.pegt")
	require.NoError(t, os.WriteFile(file, []byte(`a = "a"`), 0o600))

	s := New(Config{Paths: []string{file, dir}, ActionsDir: filepath.Join(dir, "actions")})
	assert.Equal(t, []string{dir, filepath.Join(dir, "actions")}, s.watchDirs())
}
