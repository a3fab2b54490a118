/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestConfig() *Config {
	return &Config{
		corsOrigins:    []string{"*"},
		requestTimeout: 5 * time.Second,
		player:         "alice",
	}
}

// newTestStore runs the local document store on a memory backend and
// returns a transport pointed at it.
func newTestStore(t *testing.T) (*RESTTransport, *memoryBackend) {
	t.Helper()

	backend := newMemoryBackend()
	srv := httptest.NewServer(newStoreHandler(newTestConfig(), backend, make(chan error, 16)))
	t.Cleanup(srv.Close)

	return NewRESTTransport(srv.URL+"/v1", "test", "", 5*time.Second), backend
}

func putFields(t *testing.T, backend documentBackend, collection, id string, fields map[string]json.RawMessage) {
	t.Helper()

	_, err := backend.Patch(context.Background(), collection, id, fields, nil)
	require.NoError(t, err)
}

func getFields(t *testing.T, backend documentBackend, collection, id string) map[string]json.RawMessage {
	t.Helper()

	doc, err := backend.Get(context.Background(), collection, id)
	require.NoError(t, err)

	return doc.Fields
}

func entryValue(challenger, sequence string, difficulty int, status string) json.RawMessage {
	return mustRaw(mapValue(map[string]json.RawMessage{
		"challenger":     mustRaw(stringValue(challenger)),
		"sequence":       mustRaw(stringValue(sequence)),
		"difficulty":     mustRaw(integerValue(difficulty)),
		"status":         mustRaw(stringValue(status)),
		"pointsObtained": mustRaw(integerValue(0)),
	}))
}

func putChallenges(t *testing.T, backend documentBackend, player string, entries ...json.RawMessage) {
	t.Helper()

	putFields(t, backend, challengesCollection, player, map[string]json.RawMessage{
		challengesField: mustRaw(arrayValue(entries)),
	})
}

func putPoints(t *testing.T, backend documentBackend, user string, points int) {
	t.Helper()

	putFields(t, backend, usersCollection, user, map[string]json.RawMessage{
		pointsField: mustRaw(integerValue(points)),
	})
}

// fakeClock advances only when slept on.
type fakeClock struct {
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.slept += d
}

// scriptedButtons reports each queued press for hold polls, then one
// released poll, then the next press. An empty queue is never pressed.
type scriptedButtons struct {
	presses []Color
	hold    int
	polls   int
}

func pressing(colors ...Color) *scriptedButtons {
	return &scriptedButtons{presses: colors, hold: 2}
}

func (b *scriptedButtons) Pressed() (Color, bool) {
	if len(b.presses) == 0 {
		return ColorNone, false
	}

	if b.polls < b.hold {
		b.polls++
		return b.presses[0], true
	}

	b.presses = b.presses[1:]
	b.polls = 0

	return ColorNone, false
}

type recordingActuator struct {
	calls []string
}

func (a *recordingActuator) Activate(c Color)   { a.calls = append(a.calls, "on:"+c.String()) }
func (a *recordingActuator) Deactivate(c Color) { a.calls = append(a.calls, "off:"+c.String()) }
func (a *recordingActuator) AllOn()             { a.calls = append(a.calls, "all-on") }
func (a *recordingActuator) AllOff()            { a.calls = append(a.calls, "all-off") }

type recordingDisplay struct {
	mu    sync.Mutex
	calls []string

	menuSelected int
	difficulty   int
	result       GameResult
	progress     []int
}

func (d *recordingDisplay) record(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *recordingDisplay) ShowMenu(entries []ChallengeEntry, selected int) {
	d.menuSelected = selected
	d.record("menu:%d", selected)
}

func (d *recordingDisplay) ShowDifficulty(value int) {
	d.difficulty = value
	d.record("difficulty:%d", value)
}

func (d *recordingDisplay) ShowPlaying(challenger string, length, difficulty int) {
	d.record("playing:%s:%d:%d", challenger, length, difficulty)
}

func (d *recordingDisplay) ShowProgress(current, total int) {
	d.progress = append(d.progress, current)
	d.record("progress:%d/%d", current, total)
}

func (d *recordingDisplay) ShowResult(result GameResult, challenger string) {
	d.result = result
	d.record("result:%d/%d", result.Score, result.SequenceLength)
}

func (d *recordingDisplay) ShowError(message string) {
	d.record("error")
}

func (d *recordingDisplay) last() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.calls) == 0 {
		return ""
	}

	return d.calls[len(d.calls)-1]
}
