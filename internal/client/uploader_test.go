package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExploitName(t *testing.T) {
	assert.Equal(t, "ropchain", ExploitName("/home/ctf/ropchain.py"))
	assert.Equal(t, "ropchain", ExploitName("ropchain.py.bak"))
	assert.Equal(t, "sploit", ExploitName("./dir/sploit"))
	assert.Equal(t, ".hidden", ExploitName(".hidden"))
}

// flakyIngest fails the first n upload attempts and records every body it
// accepted.
type flakyIngest struct {
	mu       sync.Mutex
	failures int
	paths    []string
	bodies   [][]Token
}

func (f *flakyIngest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		http.Error(w, "nope", http.StatusInternalServerError)
		return
	}
	body, _ := io.ReadAll(r.Body)
	var tokens []Token
	json.Unmarshal(body, &tokens)
	f.paths = append(f.paths, r.URL.Path)
	f.bodies = append(f.bodies, tokens)
	w.WriteHeader(http.StatusOK)
}

func newUploaderAgainst(t *testing.T, handler http.Handler, exploitPath string) *Uploader {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	return NewUploader(c, exploitPath)
}

func TestFlushEmptyBuffer(t *testing.T) {
	u := newUploaderAgainst(t, &flakyIngest{}, "sploit.py")
	assert.True(t, u.Flush(context.Background()))
}

func TestFlushRetainsUntilAccepted(t *testing.T) {
	ingest := &flakyIngest{failures: 2}
	u := newUploaderAgainst(t, ingest, "/tmp/ropchain.py")

	u.Push([]Token{{Flag: "AAAAA=", TS: 100}})

	// Two failed waves: the buffer survives, and grows.
	assert.False(t, u.Flush(context.Background()))
	assert.Equal(t, 1, u.Pending())

	u.Push([]Token{{Flag: "BBBBB=", TS: 200}})
	assert.False(t, u.Flush(context.Background()))
	assert.Equal(t, 2, u.Pending())

	// Third attempt lands everything in one request.
	assert.True(t, u.Flush(context.Background()))
	assert.Zero(t, u.Pending())

	require.Len(t, ingest.bodies, 1)
	assert.Equal(t, "/api/flags/ropchain", ingest.paths[0])
	assert.Equal(t, []Token{{Flag: "AAAAA=", TS: 100}, {Flag: "BBBBB=", TS: 200}}, ingest.bodies[0])
}

func TestFlushClearsOnSuccess(t *testing.T) {
	ingest := &flakyIngest{}
	u := newUploaderAgainst(t, ingest, "sploit.py")

	u.Push([]Token{{Flag: "AAAAA=", TS: 1}})
	assert.True(t, u.Flush(context.Background()))
	assert.Zero(t, u.Pending())

	// Nothing new buffered: the next flush sends no request.
	assert.True(t, u.Flush(context.Background()))
	assert.Len(t, ingest.bodies, 1)
}
