/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
)

// Terminals only report key presses, so a color key counts as held for
// keyLatch after its last press or repeat.
const keyLatch = 120 * time.Millisecond

const (
	screenRow = 2
	ledRow    = 9
	helpRow   = 11
)

var ledStyle = map[Color]tcell.Color{
	ColorGreen: tcell.ColorGreen,
	ColorWhite: tcell.ColorWhite,
	ColorRed:   tcell.ColorRed,
}

// Screen text shared by every panel that renders plain lines.

func menuLines(entries []ChallengeEntry, selected int) []string {
	lines := make([]string, 0, len(entries))

	for i, entry := range entries {
		marker := "  "
		if i == selected {
			marker = "> "
		}

		if !entry.Populated() {
			lines = append(lines, fmt.Sprintf("%s%d. ---", marker, i+1))
			continue
		}

		line := fmt.Sprintf("%s%d. %s (%d)", marker, i+1, entry.Challenger, len(entry.Sequence))
		if entry.Completed() {
			line += fmt.Sprintf(" done %+d", entry.PointsObtained)
		}
		lines = append(lines, line)
	}

	return lines
}

func difficultyLines(value int) []string {
	return []string{
		fmt.Sprintf("Difficulty: %d", value),
		"Up/Down to change, Enter to start",
	}
}

func playingLines(challenger string, length, difficulty int) []string {
	return []string{
		"Challenge from " + challenger,
		fmt.Sprintf("%d colors at difficulty %d", length, difficulty),
		"Watch...",
	}
}

func progressLines(current, total int) []string {
	return []string{
		"Your turn",
		fmt.Sprintf("Progress: %d/%d", current, total),
	}
}

func resultLines(result GameResult, challenger string) []string {
	verdict := "Failed"
	if result.Success {
		verdict = "Success!"
	}

	return []string{
		fmt.Sprintf("%s %d/%d", verdict, result.Score, result.SequenceLength),
		fmt.Sprintf("You %+d, %s %+d", result.PointsGained, challenger, result.PointsInflicted),
		"Enter to go back",
	}
}

func errorLines(message string) []string {
	return []string{"Error", message}
}

// terminalPanel renders the device on a terminal with tcell: the screen
// text, a row of LEDs, and the keyboard as joystick and color buttons.
type terminalPanel struct {
	cfg     *Config
	screen  tcell.Screen
	tones   *tonePlayer
	events  chan Event
	stop    context.CancelFunc
	logFile *os.File
	once    sync.Once

	mu        sync.Mutex
	lines     []string
	lit       map[Color]bool
	held      Color
	heldUntil time.Time
	now       func() time.Time
}

func newTerminalPanel(cfg *Config, stop context.CancelFunc) (*terminalPanel, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}

	if err := screen.Init(); err != nil {
		return nil, err
	}

	p := newTerminalPanelOn(cfg, screen, stop)

	if !cfg.noSound {
		tones, err := newTonePlayer()
		if err != nil {
			logf(cfg, "PANEL: Sound disabled: %v", err)
		} else {
			p.tones = tones
		}
	}

	return p, nil
}

// newTerminalPanelOn takes over an initialized screen.
func newTerminalPanelOn(cfg *Config, screen tcell.Screen, stop context.CancelFunc) *terminalPanel {
	p := &terminalPanel{
		cfg:    cfg,
		screen: screen,
		events: make(chan Event, 16),
		stop:   stop,
		lit:    make(map[Color]bool, len(palette)),
		now:    time.Now,
	}

	screen.HideCursor()
	p.draw()

	go p.pump()

	return p
}

func (p *terminalPanel) Events() <-chan Event { return p.events }

func (p *terminalPanel) pump() {
	defer close(p.events)

	for {
		switch ev := p.screen.PollEvent().(type) {
		case nil:
			return
		case *tcell.EventKey:
			p.handleKey(ev)
		case *tcell.EventResize:
			p.screen.Sync()
			p.draw()
		}
	}
}

func (p *terminalPanel) handleKey(ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		p.stop()
	case tcell.KeyUp:
		p.send(EventUp)
	case tcell.KeyDown:
		p.send(EventDown)
	case tcell.KeyEnter:
		p.send(EventSelect)
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			p.stop()
		case 'k':
			p.send(EventUp)
		case 'j':
			p.send(EventDown)
		case ' ':
			p.send(EventSelect)
		case '1':
			p.press(ColorGreen)
		case '2':
			p.press(ColorWhite)
		case '3':
			p.press(ColorRed)
		}
	}
}

// send drops the event if nobody is keeping up.
func (p *terminalPanel) send(ev Event) {
	select {
	case p.events <- ev:
	default:
		logf(p.cfg, "PANEL: Dropped %s", ev)
	}
}

func (p *terminalPanel) press(c Color) {
	p.mu.Lock()
	p.held = c
	p.heldUntil = p.now().Add(keyLatch)
	p.mu.Unlock()
}

func (p *terminalPanel) Pressed() (Color, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.held != ColorNone && p.now().Before(p.heldUntil) {
		return p.held, true
	}

	return ColorNone, false
}

func (p *terminalPanel) setLED(c Color, on bool) {
	p.mu.Lock()
	p.lit[c] = on
	p.mu.Unlock()

	if p.tones != nil {
		if on {
			p.tones.Start(c)
		} else {
			p.tones.Stop(c)
		}
	}
}

func (p *terminalPanel) Activate(c Color) {
	p.setLED(c, true)
	p.draw()
}

func (p *terminalPanel) Deactivate(c Color) {
	p.setLED(c, false)
	p.draw()
}

func (p *terminalPanel) AllOn() {
	for _, c := range palette {
		p.setLED(c, true)
	}
	p.draw()
}

func (p *terminalPanel) AllOff() {
	for _, c := range palette {
		p.setLED(c, false)
	}
	p.draw()
}

func (p *terminalPanel) show(lines []string) {
	p.mu.Lock()
	p.lines = lines
	p.mu.Unlock()

	p.draw()
}

func (p *terminalPanel) ShowMenu(entries []ChallengeEntry, selected int) {
	p.show(menuLines(entries, selected))
}

func (p *terminalPanel) ShowDifficulty(value int) { p.show(difficultyLines(value)) }

func (p *terminalPanel) ShowPlaying(challenger string, length, difficulty int) {
	p.show(playingLines(challenger, length, difficulty))
}

func (p *terminalPanel) ShowProgress(current, total int) { p.show(progressLines(current, total)) }

func (p *terminalPanel) ShowResult(result GameResult, challenger string) {
	p.show(resultLines(result, challenger))
}

func (p *terminalPanel) ShowError(message string) { p.show(errorLines(message)) }

func (p *terminalPanel) drawText(x, y int, style tcell.Style, text string) {
	for i, r := range []rune(text) {
		p.screen.SetContent(x+i, y, r, nil, style)
	}
}

func (p *terminalPanel) draw() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.screen.Clear()

	p.drawText(1, 0, tcell.StyleDefault.Bold(true), "SIMON DUEL  "+p.cfg.player)

	for i, line := range p.lines {
		p.drawText(2, screenRow+i, tcell.StyleDefault, line)
	}

	x := 2
	for _, c := range palette {
		style := tcell.StyleDefault.Foreground(ledStyle[c])
		if p.lit[c] {
			style = tcell.StyleDefault.Background(ledStyle[c]).Foreground(tcell.ColorBlack)
		}

		label := fmt.Sprintf(" %d %-5s ", int(c), c)
		p.drawText(x, ledRow, style, label)
		x += len(label) + 1
	}

	p.drawText(1, helpRow, tcell.StyleDefault.Dim(true), "up/down/enter: navigate  1/2/3: buttons  q: quit")

	p.screen.Show()
}

func (p *terminalPanel) Close() error {
	p.once.Do(func() {
		if p.tones != nil {
			p.tones.Close()
		}

		p.screen.Fini()

		if p.logFile != nil {
			log.SetOutput(os.Stderr)
			p.logFile.Close()
		}
	})

	return nil
}
