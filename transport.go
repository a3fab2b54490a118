/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultStoreURL   = "https://firestore.googleapis.com/v1"
	defaultDatabase   = "(default)"
	requestIDHeader   = "X-Request-Id"
	maxErrorBodyBytes = 512
)

// Transport moves whole documents to and from the remote store. The only
// write primitive replaces a single top-level field.
type Transport interface {
	GetDocument(ctx context.Context, collection, id string) ([]byte, error)
	PatchField(ctx context.Context, collection, id, field string, value Value) error
}

// RESTTransport talks to a Firestore-compatible REST endpoint.
type RESTTransport struct {
	client  *http.Client
	baseURL string
	project string
	apiKey  string
}

func NewRESTTransport(baseURL, project, apiKey string, timeout time.Duration) *RESTTransport {
	if baseURL == "" {
		baseURL = defaultStoreURL
	}

	return &RESTTransport{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		project: project,
		apiKey:  apiKey,
	}
}

func (t *RESTTransport) documentURL(collection, id string, query url.Values) string {
	if t.apiKey != "" {
		query.Set("key", t.apiKey)
	}

	u := fmt.Sprintf("%s/projects/%s/databases/%s/documents/%s/%s",
		t.baseURL,
		url.PathEscape(t.project),
		defaultDatabase,
		url.PathEscape(collection),
		url.PathEscape(id),
	)

	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return u
}

func (t *RESTTransport) GetDocument(ctx context.Context, collection, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.documentURL(collection, id, url.Values{}), nil)
	if err != nil {
		return nil, err
	}

	return t.do(req)
}

func (t *RESTTransport) PatchField(ctx context.Context, collection, id, field string, value Value) error {
	body, err := json.Marshal(Document{
		Fields: map[string]json.RawMessage{field: mustRaw(value)},
	})
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("updateMask.fieldPaths", field)

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, t.documentURL(collection, id, query), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = t.do(req)

	return err
}

func (t *RESTTransport) do(req *http.Request) ([]byte, error) {
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return nil, fmt.Errorf("%s %s: %s: %s",
			req.Method,
			req.URL.Path,
			resp.Status,
			strings.TrimSpace(string(body)),
		)
	}

	return body, nil
}
