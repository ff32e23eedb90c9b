package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_PutSignsRequest(t *testing.T) {
	payload := []byte("snapshot-bytes")
	sum := sha256.Sum256(payload)

	var gotPath, gotAuth, gotHash, gotDate, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotDate = r.Header.Get("x-amz-date")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, Bucket: "zones", AccessKeyID: "AKID", SecretAccessKey: "secret"})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "7.snap.zst")
	require.NoError(t, os.WriteFile(local, payload, 0o644))
	require.NoError(t, c.Put(context.Background(), "/prod//zones/z 1/snapshots/7.snap.zst", local))

	assert.Equal(t, "/zones/prod/zones/z%201/snapshots/7.snap.zst", gotPath)
	assert.Equal(t, payload, gotBody)
	assert.Equal(t, hex.EncodeToString(sum[:]), gotHash)
	assert.Equal(t, "20260504T123000Z", gotDate)
	assert.Equal(t, "application/zstd", gotType)
	assert.True(t, strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKID/20260504/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="), gotAuth)
}

func TestClient_PutReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s", Region: "us-east-1"})
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(local, []byte("{}"), 0o644))

	err = c.Put(context.Background(), "meta.json", local)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=403")
	assert.Contains(t, err.Error(), "AccessDenied")

	assert.Error(t, c.Put(context.Background(), "../", local))
	assert.Error(t, c.Put(context.Background(), "x", filepath.Dir(local)))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	assert.Error(t, err)

	c, err := NewClient(Config{Endpoint: "acct.r2.cloudflarestorage.com/", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com", c.endpoint)
	assert.Equal(t, "auto", c.region)
}

func TestNormalizeObjectKey(t *testing.T) {
	assert.Equal(t, "a/b/c.json", normalizeObjectKey(`\a\b\..\b\c.json`))
	assert.Equal(t, "", normalizeObjectKey("  "))
	assert.Equal(t, "", normalizeObjectKey("/"))
}
