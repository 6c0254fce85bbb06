package profile

import (
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServe(t *testing.T) {
	s, err := Serve("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + s.Addr().String() + "/debug/pprof/cmdline")
	require.NoError(t, err)

	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s.Stop()
}

func TestWriteHeap(t *testing.T) {
	require.NoError(t, WriteHeap(filepath.Join(t.TempDir(), "heap.out")))
}
