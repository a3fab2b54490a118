/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
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

const testDocumentPath = "/v1/projects/test/databases/(default)/documents/users/alice"

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestApplyPatch(t *testing.T) {
	current := map[string]json.RawMessage{
		"a": json.RawMessage(`1`),
		"b": json.RawMessage(`2`),
		"c": json.RawMessage(`3`),
	}
	fields := map[string]json.RawMessage{
		"a": json.RawMessage(`10`),
		"d": json.RawMessage(`40`),
	}

	merged := applyPatch(current, fields, []string{"a", "b"})
	assert.Equal(t, map[string]json.RawMessage{
		"a": json.RawMessage(`10`),
		"c": json.RawMessage(`3`),
	}, merged)

	replaced := applyPatch(current, fields, nil)
	assert.Equal(t, fields, replaced)

	// current is never modified in place.
	assert.Len(t, current, 3)
}

func TestStoreGetMissingDocument(t *testing.T) {
	handler := newStoreHandler(newTestConfig(), newMemoryBackend(), make(chan error, 1))

	rec := doRequest(t, handler, http.MethodGet, testDocumentPath, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body storeError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Error.Status)
	assert.Equal(t, http.StatusNotFound, body.Error.Code)
}

func TestStorePatchWithMask(t *testing.T) {
	backend := newMemoryBackend()
	handler := newStoreHandler(newTestConfig(), backend, make(chan error, 1))

	putFields(t, backend, "users", "alice", map[string]json.RawMessage{
		"points":      json.RawMessage(`{"integerValue":"1"}`),
		"displayName": json.RawMessage(`{"stringValue":"Alice"}`),
		"stale":       json.RawMessage(`{"stringValue":"x"}`),
	})

	rec := doRequest(t, handler, http.MethodPatch,
		testDocumentPath+"?updateMask.fieldPaths=points&updateMask.fieldPaths=stale",
		`{"fields":{"points":{"integerValue":"9"},"displayName":{"stringValue":"ignored"}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var doc Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "projects/test/databases/(default)/documents/users/alice", doc.Name)
	assert.JSONEq(t, `{"integerValue":"9"}`, string(doc.Fields["points"]))
	assert.JSONEq(t, `{"stringValue":"Alice"}`, string(doc.Fields["displayName"]))
	assert.NotContains(t, doc.Fields, "stale")
	assert.NotEmpty(t, doc.UpdateTime)

	rec = doRequest(t, handler, http.MethodGet, testDocumentPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestStorePatchCreatesDocument(t *testing.T) {
	backend := newMemoryBackend()
	handler := newStoreHandler(newTestConfig(), backend, make(chan error, 1))

	rec := doRequest(t, handler, http.MethodPatch,
		"/v1/projects/test/databases/(default)/documents/users/bob?updateMask.fieldPaths=points",
		`{"fields":{"points":{"integerValue":"3"}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := backend.Get(context.Background(), "users", "bob")
	require.NoError(t, err)
	assert.Equal(t, doc.CreateTime, doc.UpdateTime)
	assert.JSONEq(t, `{"integerValue":"3"}`, string(doc.Fields["points"]))
}

func TestStorePatchRejectsBadRequests(t *testing.T) {
	handler := newStoreHandler(newTestConfig(), newMemoryBackend(), make(chan error, 1))

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{"nested path", testDocumentPath + "?updateMask.fieldPaths=a.b", `{"fields":{}}`},
		{"empty path", testDocumentPath + "?updateMask.fieldPaths=", `{"fields":{}}`},
		{"bad json", testDocumentPath, `{"fields":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, handler, http.MethodPatch, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")
		})
	}
}

func TestStoreCORSPreflight(t *testing.T) {
	handler := newStoreHandler(newTestConfig(), newMemoryBackend(), make(chan error, 1))

	req := httptest.NewRequest(http.MethodOptions, testDocumentPath, nil)
	req.Header.Set("Origin", "http://phone.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStoreRateLimit(t *testing.T) {
	cfg := newTestConfig()
	cfg.rateLimit = 1
	handler := newStoreHandler(cfg, newMemoryBackend(), make(chan error, 1))

	first := doRequest(t, handler, http.MethodGet, testDocumentPath, "")
	second := doRequest(t, handler, http.MethodGet, testDocumentPath, "")

	assert.Equal(t, http.StatusNotFound, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "RESOURCE_EXHAUSTED")
}

func TestHealthAndVersion(t *testing.T) {
	handler := newStoreHandler(newTestConfig(), newMemoryBackend(), make(chan error, 1))

	rec := doRequest(t, handler, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok\n", rec.Body.String())

	rec = doRequest(t, handler, http.MethodGet, "/version", "")
	assert.Equal(t, "simonduel v"+releaseVersion+"\n", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSeedBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"users/alice": {"points": {"integerValue": "120"}},
		"challenges/alice": {"challenges": {"arrayValue": {"values": [
			{"mapValue": {"fields": {"challenger": {"stringValue": "bob"}, "sequence": {"stringValue": "123"}}}}
		]}}}
	}`), 0o644))

	docs, err := readSeedFile(newTestConfig(), path)
	require.NoError(t, err)

	backend := newMemoryBackend()
	require.NoError(t, seedBackend(context.Background(), backend, docs))

	points, ok := intField(getFields(t, backend, "users", "alice"), "points", 0)
	assert.True(t, ok)
	assert.Equal(t, 120, points)

	err = seedBackend(context.Background(), backend, map[string]map[string]json.RawMessage{"nocollection": {}})
	assert.Error(t, err)
}

func TestRESTTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get(requestIDHeader))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		http.Error(w, strings.Repeat("x", 2048), http.StatusForbidden)
	}))
	defer srv.Close()

	transport := NewRESTTransport(srv.URL, "test", "secret", time.Second)

	_, err := transport.GetDocument(context.Background(), "users", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Less(t, len(err.Error()), 700)

	err = transport.PatchField(context.Background(), "users", "alice", "points", integerValue(1))
	assert.Error(t, err)
}

// Runs against a real database when SIMONDUEL_TEST_DSN is set.
func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("SIMONDUEL_TEST_DSN")
	if dsn == "" {
		t.Skip("SIMONDUEL_TEST_DSN not set")
	}

	ctx := context.Background()
	backend, err := newPostgresBackend(ctx, dsn)
	require.NoError(t, err)
	defer backend.Close()

	id := "test-" + time.Now().Format("150405.000000")

	_, err = backend.Get(ctx, "users", id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = backend.Patch(ctx, "users", id, map[string]json.RawMessage{
		"points": json.RawMessage(`{"integerValue":"5"}`),
		"name":   json.RawMessage(`{"stringValue":"x"}`),
	}, nil)
	require.NoError(t, err)

	doc, err := backend.Patch(ctx, "users", id, map[string]json.RawMessage{
		"points": json.RawMessage(`{"integerValue":"6"}`),
	}, []string{"points"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"integerValue":"6"}`, string(doc.Fields["points"]))
	assert.JSONEq(t, `{"stringValue":"x"}`, string(doc.Fields["name"]))
	assert.False(t, doc.UpdateTime.Before(doc.CreateTime))
}
