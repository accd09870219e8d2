package pprof

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilerWritesFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		CPUProfile:       filepath.Join(dir, "cpu.pprof"),
		HeapProfile:      filepath.Join(dir, "nested", "heap.pprof"),
		GoroutineProfile: filepath.Join(dir, "goroutine.pprof"),
	}
	require.True(t, cfg.Enabled())

	p := New(cfg)
	require.NoError(t, p.Start())
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	for _, path := range []string{cfg.CPUProfile, cfg.HeapProfile, cfg.GoroutineProfile} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.NotZero(t, info.Size(), path)
	}
}

func TestProfilerDisabled(t *testing.T) {
	cfg := Config{}
	assert.False(t, cfg.Enabled())

	p := New(cfg)
	assert.NoError(t, p.Start())
	assert.NoError(t, p.Stop())
}

func TestRegisterRoutes(t *testing.T) {
	router := httprouter.New()
	Register(router)

	for _, path := range []string{"/debug/pprof/", "/debug/pprof/goroutine?debug=1", "/debug/pprof/cmdline"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
