// Local document store
//
// A small stand-in for the hosted document database, speaking the subset
// of its REST dialect that the device and the mobile app use:
//
//   GET   /v1/projects/:project/databases/:database/documents/:collection/:id
//   PATCH /v1/projects/:project/databases/:database/documents/:collection/:id
//         ?updateMask.fieldPaths=<field>[&updateMask.fieldPaths=<field>...]
//
// A PATCH with a mask only touches the named top-level fields; a field named
// in the mask but absent from the body is deleted. Without a mask the whole
// field set is replaced. Documents are created on first PATCH.
//
// Like the real thing used this way, there are no preconditions: whoever
// writes last wins.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

const maxDocumentBytes = 1 << 20

type storedDocument struct {
	Fields     map[string]json.RawMessage
	CreateTime time.Time
	UpdateTime time.Time
}

// documentBackend keeps documents by collection and id. Patch applies the
// mask semantics described above and returns the stored result.
type documentBackend interface {
	Get(ctx context.Context, collection, id string) (storedDocument, error)
	Patch(ctx context.Context, collection, id string, fields map[string]json.RawMessage, mask []string) (storedDocument, error)
	Close() error
}

// applyPatch merges fields into current according to mask.
func applyPatch(current, fields map[string]json.RawMessage, mask []string) map[string]json.RawMessage {
	if len(mask) == 0 {
		merged := make(map[string]json.RawMessage, len(fields))
		for k, v := range fields {
			merged[k] = v
		}
		return merged
	}

	merged := make(map[string]json.RawMessage, len(current)+len(mask))
	for k, v := range current {
		merged[k] = v
	}
	for _, path := range mask {
		if v, ok := fields[path]; ok {
			merged[path] = v
		} else {
			delete(merged, path)
		}
	}

	return merged
}

type memoryBackend struct {
	mu   sync.RWMutex
	docs map[string]storedDocument
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{docs: make(map[string]storedDocument)}
}

func documentKey(collection, id string) string {
	return collection + "/" + id
}

func copyFields(fields map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func (b *memoryBackend) Get(_ context.Context, collection, id string) (storedDocument, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc, ok := b.docs[documentKey(collection, id)]
	if !ok {
		return storedDocument{}, ErrNotFound
	}
	doc.Fields = copyFields(doc.Fields)

	return doc, nil
}

func (b *memoryBackend) Patch(_ context.Context, collection, id string, fields map[string]json.RawMessage, mask []string) (storedDocument, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	key := documentKey(collection, id)

	doc, ok := b.docs[key]
	if !ok {
		doc = storedDocument{CreateTime: now}
	}
	doc.Fields = applyPatch(doc.Fields, copyFields(fields), mask)
	doc.UpdateTime = now

	b.docs[key] = doc

	doc.Fields = copyFields(doc.Fields)

	return doc, nil
}

func (b *memoryBackend) Close() error { return nil }

type storeError struct {
	Error storeErrorBody `json:"error"`
}

type storeErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func writeStoreError(cfg *Config, w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(code)

	_ = json.NewEncoder(w).Encode(storeError{Error: storeErrorBody{
		Code:    code,
		Message: message,
		Status:  status,
	}})
}

func writeDocument(cfg *Config, w http.ResponseWriter, name string, doc storedDocument) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(http.StatusOK)

	return json.NewEncoder(w).Encode(Document{
		Name:       name,
		Fields:     doc.Fields,
		CreateTime: doc.CreateTime.Format(time.RFC3339Nano),
		UpdateTime: doc.UpdateTime.Format(time.RFC3339Nano),
	})
}

func documentName(p httprouter.Params) string {
	return fmt.Sprintf("projects/%s/databases/%s/documents/%s/%s",
		p.ByName("project"), p.ByName("database"), p.ByName("collection"), p.ByName("id"))
}

func serveGetDocument(cfg *Config, backend documentBackend, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()
		name := documentName(p)

		doc, err := backend.Get(r.Context(), p.ByName("collection"), p.ByName("id"))
		switch {
		case errors.Is(err, ErrNotFound):
			writeStoreError(cfg, w, http.StatusNotFound, "NOT_FOUND", "Document \""+name+"\" not found.")
			return
		case err != nil:
			errs <- err
			writeStoreError(cfg, w, http.StatusInternalServerError, "INTERNAL", "Failed to read document.")
			return
		}

		if err := writeDocument(cfg, w, name, doc); err != nil {
			errs <- err

			return
		}

		logf(cfg, "STORE: GET %s for %s (request %s) in %s",
			name,
			realIP(r),
			r.Header.Get(requestIDHeader),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func servePatchDocument(cfg *Config, backend documentBackend, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()
		name := documentName(p)

		var body Document
		if err := json.NewDecoder(io.LimitReader(r.Body, maxDocumentBytes)).Decode(&body); err != nil {
			writeStoreError(cfg, w, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid JSON payload: "+err.Error())
			return
		}

		mask := r.URL.Query()["updateMask.fieldPaths"]
		for _, path := range mask {
			if path == "" || strings.ContainsAny(path, ".`") {
				writeStoreError(cfg, w, http.StatusBadRequest, "INVALID_ARGUMENT", "Only top-level field paths are supported: \""+path+"\".")
				return
			}
		}

		doc, err := backend.Patch(r.Context(), p.ByName("collection"), p.ByName("id"), body.Fields, mask)
		if err != nil {
			errs <- err
			writeStoreError(cfg, w, http.StatusInternalServerError, "INTERNAL", "Failed to write document.")
			return
		}

		if err := writeDocument(cfg, w, name, doc); err != nil {
			errs <- err

			return
		}

		logf(cfg, "STORE: PATCH %s [%s] for %s (request %s) in %s",
			name,
			strings.Join(mask, ","),
			realIP(r),
			r.Header.Get(requestIDHeader),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func rateLimit(cfg *Config, limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeStoreError(cfg, w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "Rate limit exceeded.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// newStoreHandler wires the document routes plus CORS, so the mobile app
// can talk to it from a browser, and an optional global rate limit.
func newStoreHandler(cfg *Config, backend documentBackend, errs chan<- error) http.Handler {
	mux := newRouter(cfg, errs)

	const path = "/v1/projects/:project/databases/:database/documents/:collection/:id"
	mux.GET(path, serveGetDocument(cfg, backend, errs))
	mux.PATCH(path, servePatchDocument(cfg, backend, errs))

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	var handler http.Handler = c.Handler(mux)

	if cfg.rateLimit > 0 {
		burst := max(1, int(cfg.rateLimit))
		handler = rateLimit(cfg, rate.NewLimiter(rate.Limit(cfg.rateLimit), burst), handler)
	}

	return handler
}

func openBackend(ctx context.Context, cfg *Config) (documentBackend, error) {
	switch cfg.backend {
	case "postgres":
		return newPostgresBackend(ctx, cfg.dsn)
	default:
		return newMemoryBackend(), nil
	}
}

// seedBackend stores every document from a seed file, replacing what is
// there. Keys are "collection/id".
func seedBackend(ctx context.Context, backend documentBackend, docs map[string]map[string]json.RawMessage) error {
	keys := make([]string, 0, len(docs))
	for key := range docs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		collection, id, ok := strings.Cut(key, "/")
		if !ok || collection == "" || id == "" || strings.Contains(id, "/") {
			return fmt.Errorf("seed key %q is not collection/id", key)
		}
		if _, err := backend.Patch(ctx, collection, id, docs[key], nil); err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}

	return nil
}

func ServeStore(ctx context.Context, cfg *Config) error {
	logf(cfg, "START: simonduel v%s document store (%s backend)", releaseVersion, cfg.backend)

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	if cfg.seed != "" {
		docs, err := readSeedFile(cfg, cfg.seed)
		if err != nil {
			return err
		}
		if err := seedBackend(ctx, backend, docs); err != nil {
			return err
		}
		logf(cfg, "STORE: Seeded %d documents from %s", len(docs), cfg.seed)
	}

	errs := make(chan error, 64)
	go drainErrors(ctx, cfg, errs)

	return listen(ctx, cfg, newStoreHandler(cfg, backend, errs))
}
