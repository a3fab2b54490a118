/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWebPanel(t *testing.T) (*webPanel, *httptest.Server) {
	t.Helper()

	p, _ := openWebPanel(context.Background(), newTestConfig())
	srv := httptest.NewServer(p.routes(make(chan error, 16)))

	t.Cleanup(func() {
		srv.Close()
		p.Close()
	})

	return p, srv
}

func dialPanel(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

type panelMessage struct {
	Type  string          `json:"type"`
	View  string          `json:"view"`
	Lines []string        `json:"lines"`
	Lit   map[string]bool `json:"lit"`
}

// readUntil returns the first message matching want.
func readUntil(t *testing.T, conn *websocket.Conn, want func(panelMessage) bool) panelMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	for {
		var msg panelMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if want(msg) {
			return msg
		}
	}
}

func TestWebPanelReplaysStateToNewClients(t *testing.T) {
	p, srv := newTestWebPanel(t)

	p.ShowDifficulty(6)
	p.Activate(ColorGreen)

	conn := dialPanel(t, srv)

	screen := readUntil(t, conn, func(m panelMessage) bool { return m.Type == "screen" })
	assert.Equal(t, "difficulty", screen.View)
	assert.Equal(t, difficultyLines(6), screen.Lines)

	leds := readUntil(t, conn, func(m panelMessage) bool { return m.Type == "leds" })
	assert.True(t, leds.Lit["1"])
	assert.False(t, leds.Lit["2"])
}

func TestWebPanelBroadcasts(t *testing.T) {
	p, srv := newTestWebPanel(t)

	first := dialPanel(t, srv)
	second := dialPanel(t, srv)

	// Both must be registered before the broadcast; a round trip proves it.
	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.WriteJSON(ClientMessage{Type: "nav", Direction: "up"}))
		assert.Equal(t, EventUp, nextEvent(t, p.Events()))
	}

	p.ShowResult(GameResult{Score: 2, SequenceLength: 4, PointsGained: -30, PointsInflicted: 30}, "bob")

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readUntil(t, conn, func(m panelMessage) bool { return m.View == "result" })
		assert.Equal(t, resultLines(GameResult{Score: 2, SequenceLength: 4, PointsGained: -30, PointsInflicted: 30}, "bob"), msg.Lines)
	}
}

func TestWebPanelNavigation(t *testing.T) {
	p, srv := newTestWebPanel(t)
	conn := dialPanel(t, srv)

	for _, tt := range []struct {
		direction string
		want      Event
	}{
		{"up", EventUp},
		{"down", EventDown},
		{"select", EventSelect},
	} {
		require.NoError(t, conn.WriteJSON(ClientMessage{Type: "nav", Direction: tt.direction}))
		assert.Equal(t, tt.want, nextEvent(t, p.Events()))
	}
}

func TestWebPanelButtons(t *testing.T) {
	p, srv := newTestWebPanel(t)
	conn := dialPanel(t, srv)

	pressed := func(want Color) func() bool {
		return func() bool {
			c, ok := p.Pressed()
			return ok && c == want
		}
	}
	released := func() bool {
		_, ok := p.Pressed()
		return !ok
	}

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "press", Color: int(ColorRed)}))
	assert.Eventually(t, pressed(ColorRed), 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "release", Color: int(ColorRed)}))
	assert.Eventually(t, released, 2*time.Second, 5*time.Millisecond)

	// Out of range colors are ignored.
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "press", Color: 7}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "nav", Direction: "down"}))
	nextEvent(t, p.Events())
	_, ok := p.Pressed()
	assert.False(t, ok)

	// Dropping the connection releases what it held.
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "press", Color: int(ColorGreen)}))
	assert.Eventually(t, pressed(ColorGreen), 2*time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, released, 2*time.Second, 5*time.Millisecond)
}

func TestWebPanelPage(t *testing.T) {
	_, srv := newTestWebPanel(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == clientCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Len(t, cookie.Value, 36)

	for path, contentType := range map[string]string{
		"/assets/panel/app.js":  "text/javascript; charset=utf-8",
		"/assets/panel/app.css": "text/css; charset=utf-8",
		"/favicons/favicon.svg": "image/svg+xml",
		"/qr":                   "image/png",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, contentType, resp.Header.Get("Content-Type"), path)
	}

	resp, err = http.Get(srv.URL + "/assets/panel/missing.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
