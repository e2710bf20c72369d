package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalizePlainPath(t *testing.T) {
	p, cleanup, err := Localize(context.Background(), "/tmp/some.pdf")
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, "/tmp/some.pdf", p)
}

func TestLocalizeFileScheme(t *testing.T) {
	p, cleanup, err := Localize(context.Background(), "file:///tmp/some.pdf")
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, "/tmp/some.pdf", p)
}

func TestLocalizeHTTPDownloadsToTemp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	p, cleanup, err := Localize(context.Background(), srv.URL+"/doc.pdf")
	require.NoError(t, err)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	cleanup()
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err), "temp file removed by cleanup")
}

func TestLocalizeHTTPRemovesTempOnTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declare more bytes than are sent so the client's body read
		// fails mid-copy.
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("short"))
	}))
	defer srv.Close()

	before, err := filepath.Glob(filepath.Join(os.TempDir(), "import-*"))
	require.NoError(t, err)

	_, _, err = Localize(context.Background(), srv.URL+"/doc.pdf")
	require.Error(t, err)

	after, err := filepath.Glob(filepath.Join(os.TempDir(), "import-*"))
	require.NoError(t, err)
	assert.Len(t, after, len(before), "failed download leaves no temp file behind")
}

func TestLocalizeHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := Localize(context.Background(), srv.URL+"/missing.pdf")
	assert.Error(t, err)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "scan", BaseName("/home/u/scan.jpg"))
	assert.Equal(t, "scan", BaseName("file:///home/u/scan.jpg"))
	assert.Equal(t, "report", BaseName("s3://bucket/folder/report.pdf"))
	assert.Equal(t, "page", BaseName("https://example.com/page.pdf#frag"))
	assert.Equal(t, "File", BaseName(""))
}
