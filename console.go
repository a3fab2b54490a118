// Browser front panel
//
// Serves the device's screen, LEDs and buttons to any number of browsers
// over one websocket each. Every client sees the same device:
//
//   - GET /     panel page, assigns a client cookie
//   - GET /ws   websocket: screen and LED state out, joystick and buttons in
//   - GET /qr   PNG QR code of the panel URL, for pairing a phone
//
// A button is held from its "press" message until the matching "release",
// or until that client disconnects.

package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type      string `json:"type"`                // "nav", "press", "release"
	Direction string `json:"direction,omitempty"` // nav: "up", "down", "select"
	Color     int    `json:"color,omitempty"`     // press / release
}

// ScreenMessage mirrors whatever the device screen shows. Lines is enough
// to render it; the other fields depend on View.
type ScreenMessage struct {
	Type       string           `json:"type"` // "screen"
	View       string           `json:"view"` // "menu", "difficulty", "playing", "progress", "result", "error"
	Lines      []string         `json:"lines"`
	Entries    []ChallengeEntry `json:"entries,omitempty"`
	Selected   int              `json:"selected"`
	Difficulty int              `json:"difficulty,omitempty"`
	Current    int              `json:"current,omitempty"`
	Total      int              `json:"total,omitempty"`
	Result     *GameResult      `json:"result,omitempty"`
	Challenger string           `json:"challenger,omitempty"`
}

// LEDMessage lists which LEDs are lit, by color number.
type LEDMessage struct {
	Type string       `json:"type"` // "leds"
	Lit  map[int]bool `json:"lit"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	clientID string
}

// panelHub fans device state out to every connected client and replays
// the latest screen and LEDs to newcomers.
type panelHub struct {
	clients   map[*Client]bool
	register  chan *Client
	unreg     chan *Client
	broadcast chan any
	done      <-chan struct{}

	screen any
	leds   any
}

func newPanelHub(done <-chan struct{}) *panelHub {
	return &panelHub{
		clients:   make(map[*Client]bool),
		register:  make(chan *Client),
		unreg:     make(chan *Client),
		broadcast: make(chan any),
		done:      done,
	}
}

func (h *panelHub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}

			return

		case c := <-h.register:
			h.clients[c] = true

			for _, msg := range []any{h.screen, h.leds} {
				if msg != nil {
					c.send <- msg
				}
			}

		case c := <-h.unreg:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case msg := <-h.broadcast:
			switch msg.(type) {
			case ScreenMessage:
				h.screen = msg
			case LEDMessage:
				h.leds = msg
			}

			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

func (h *panelHub) publish(msg any) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// webPanel is a frontPanel whose hardware lives in browsers.
type webPanel struct {
	cfg    *Config
	hub    *panelHub
	events chan Event
	cancel context.CancelFunc

	mu   sync.Mutex
	lit  map[Color]bool
	held map[*Client]Color
	last Color
}

func openWebPanel(ctx context.Context, cfg *Config) (*webPanel, context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	p := &webPanel{
		cfg:    cfg,
		hub:    newPanelHub(ctx.Done()),
		events: make(chan Event, 16),
		cancel: cancel,
		lit:    make(map[Color]bool, len(palette)),
		held:   make(map[*Client]Color),
	}

	go p.hub.run()

	return p, ctx
}

// newWebPanel serves the panel in the background. If the listener fails
// the whole program is stopped.
func newWebPanel(ctx context.Context, cfg *Config, stop context.CancelFunc) *webPanel {
	p, ctx := openWebPanel(ctx, cfg)

	errs := make(chan error, 64)
	go drainErrors(ctx, cfg, errs)

	handler := p.routes(errs)

	go func() {
		if err := listen(ctx, cfg, handler); err != nil {
			log.Printf("panel server: %v", err)
			stop()
		}
	}()

	return p
}

func (p *webPanel) routes(errs chan<- error) http.Handler {
	mux := newRouter(p.cfg, errs)

	mux.GET("/", servePanelPage(p.cfg, errs))
	mux.GET("/assets/*filepath", serveAssets(p.cfg, errs))
	mux.GET("/favicons/*filepath", serveFavicons(p.cfg, errs))
	mux.GET("/robots.txt", serveRobots(p.cfg, errs))
	mux.GET("/ws", p.serveWS())
	mux.GET("/qr", qrHandler(p.cfg))

	return mux
}

func (p *webPanel) Events() <-chan Event { return p.events }

func (p *webPanel) Close() error {
	p.cancel()

	return nil
}

func (p *webPanel) send(ev Event) {
	select {
	case p.events <- ev:
	default:
		logf(p.cfg, "PANEL: Dropped %s", ev)
	}
}

func (p *webPanel) handleMessage(c *Client, msg ClientMessage) {
	switch msg.Type {
	case "nav":
		switch msg.Direction {
		case "up":
			p.send(EventUp)
		case "down":
			p.send(EventDown)
		case "select":
			p.send(EventSelect)
		}
	case "press":
		color := Color(msg.Color)
		if color < ColorGreen || color > ColorRed {
			return
		}

		p.mu.Lock()
		p.held[c] = color
		p.last = color
		p.mu.Unlock()
	case "release":
		p.release(c)
	default:
		// ignore unknown types
	}
}

func (p *webPanel) release(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.held, c)

	if len(p.held) == 0 {
		p.last = ColorNone
	}
}

// Pressed reports the most recently pressed button while any client
// still holds one.
func (p *webPanel) Pressed() (Color, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.held) == 0 {
		return ColorNone, false
	}

	for _, c := range p.held {
		if c == p.last {
			return c, true
		}
	}

	for _, c := range p.held {
		return c, true
	}

	return ColorNone, false
}

func (p *webPanel) setLEDs(on bool, colors ...Color) {
	p.mu.Lock()
	for _, c := range colors {
		p.lit[c] = on
	}

	lit := make(map[int]bool, len(p.lit))
	for c, on := range p.lit {
		lit[int(c)] = on
	}
	p.mu.Unlock()

	p.hub.publish(LEDMessage{Type: "leds", Lit: lit})
}

func (p *webPanel) Activate(c Color)   { p.setLEDs(true, c) }
func (p *webPanel) Deactivate(c Color) { p.setLEDs(false, c) }
func (p *webPanel) AllOn()             { p.setLEDs(true, palette...) }
func (p *webPanel) AllOff()            { p.setLEDs(false, palette...) }

func (p *webPanel) ShowMenu(entries []ChallengeEntry, selected int) {
	p.hub.publish(ScreenMessage{
		Type:     "screen",
		View:     "menu",
		Lines:    menuLines(entries, selected),
		Entries:  entries,
		Selected: selected,
	})
}

func (p *webPanel) ShowDifficulty(value int) {
	p.hub.publish(ScreenMessage{
		Type:       "screen",
		View:       "difficulty",
		Lines:      difficultyLines(value),
		Difficulty: value,
	})
}

func (p *webPanel) ShowPlaying(challenger string, length, difficulty int) {
	p.hub.publish(ScreenMessage{
		Type:       "screen",
		View:       "playing",
		Lines:      playingLines(challenger, length, difficulty),
		Difficulty: difficulty,
		Total:      length,
		Challenger: challenger,
	})
}

func (p *webPanel) ShowProgress(current, total int) {
	p.hub.publish(ScreenMessage{
		Type:    "screen",
		View:    "progress",
		Lines:   progressLines(current, total),
		Current: current,
		Total:   total,
	})
}

func (p *webPanel) ShowResult(result GameResult, challenger string) {
	p.hub.publish(ScreenMessage{
		Type:       "screen",
		View:       "result",
		Lines:      resultLines(result, challenger),
		Result:     &result,
		Challenger: challenger,
	})
}

func (p *webPanel) ShowError(message string) {
	p.hub.publish(ScreenMessage{
		Type:  "screen",
		View:  "error",
		Lines: errorLines(message),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const clientCookieName = "simonduel_id"

func getOrSetClientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(clientCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     clientCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func (p *webPanel) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		clientID := getOrSetClientID(w, r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(p.cfg, "PANEL: Upgrade failed for %s: %v", realIP(r), err)
			return
		}

		// The server's write timeout would otherwise cut the socket.
		_ = conn.NetConn().SetDeadline(time.Time{})

		client := &Client{
			conn:     conn,
			send:     make(chan any, 16),
			clientID: clientID,
		}

		select {
		case p.hub.register <- client:
		case <-p.hub.done:
			_ = conn.Close()
			return
		}

		logf(p.cfg, "PANEL: Client %s connected from %s", clientID, realIP(r))

		go client.writePump()
		client.readPump(p)

		logf(p.cfg, "PANEL: Client %s disconnected", clientID)
	}
}

func (c *Client) readPump(p *webPanel) {
	defer func() {
		p.release(c)

		select {
		case p.hub.unreg <- c:
		case <-p.hub.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		p.handleMessage(c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// qrHandler encodes the panel's own URL, so a phone on the same network
// can scan its way to the buttons.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "qr")

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}
