package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(attempts int) *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:   "test-agent",
		Timeout:     5 * time.Second,
		MaxAttempts: attempts,
		RatePerHost: 100,
	})
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	body, err := newTestFetcher(1).Download(context.Background(), srv.URL+"/us-states.json")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FeatureCollection")
}

func TestDownload_SingleAttemptByDefault(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Timeout: time.Second})
	_, err := f.Download(context.Background(), srv.URL+"/x.json")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownload_RetriesWhenConfigured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := newTestFetcher(2).Download(context.Background(), srv.URL+"/x.json")
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, int32(2), hits.Load())
}

func TestDownload_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestFetcher(1).Download(context.Background(), srv.URL+"/missing.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "us-national.json")
	require.NoError(t, os.WriteFile(path, []byte("local"), 0o600))

	body, err := FileFetcher{}.Download(context.Background(), "file://"+path)
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "local", string(data))

	_, err = FileFetcher{}.Download(context.Background(), filepath.Join(dir, "nope.json"))
	assert.Error(t, err)
}

func TestAuto_Dispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("disk"), 0o600))

	a := NewAuto(HTTPOptions{Timeout: time.Second})

	body, err := a.Download(context.Background(), Join(srv.URL, "a.json"))
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "remote", string(data))

	body, err = a.Download(context.Background(), Join(dir, "a.json"))
	require.NoError(t, err)
	data, _ = io.ReadAll(body)
	body.Close()
	assert.Equal(t, "disk", string(data))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/geo/us-states.json", Join("https://cdn.example.com/geo/", "/us-states.json"))
	assert.Equal(t, "assets/us-states.json", Join("assets", "us-states.json"))
	assert.Equal(t, "us-states.json", Join("", "us-states.json"))
	assert.True(t, IsRemote("HTTPS://x"))
	assert.False(t, IsRemote("/srv/geo"))
}

func TestStreamCSV(t *testing.T) {
	in := "\ufeffvariable_key, value\n 1 , 2.5\n3,4\n"
	header, rows, errs, err := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"variable_key", "value"}, header)

	var got []CSVRow
	for r := range rows {
		got = append(got, r)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []CSVRow{
		{Line: 2, Fields: []string{"1", "2.5"}},
		{Line: 3, Fields: []string{"3", "4"}},
	}, got)
}

func TestStreamCSV_Delimiter(t *testing.T) {
	header, rows, errs, err := StreamCSV(context.Background(), strings.NewReader("a|b\n1|2\n"), CSVOptions{Delimiter: '|'})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, header)
	r := <-rows
	assert.Equal(t, []string{"1", "2"}, r.Fields)
	for range rows {
	}
	require.NoError(t, <-errs)
}

func TestStreamCSV_Empty(t *testing.T) {
	_, _, _, err := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamCSV_MalformedRow(t *testing.T) {
	_, rows, errs, err := StreamCSV(context.Background(), strings.NewReader("a,b\n\"unterminated,1\n"), CSVOptions{})
	require.NoError(t, err)
	for range rows {
	}
	err = <-errs
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, rows, errs, err := StreamCSV(ctx, strings.NewReader("a\nb\n"), CSVOptions{})
	require.NoError(t, err)
	for range rows {
	}
	err = <-errs
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
