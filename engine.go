/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"time"
)

// Color identifies one LED/button pair. Sequences store colors as digits.
type Color int

const (
	ColorNone Color = iota
	ColorGreen
	ColorWhite
	ColorRed
)

var palette = []Color{ColorGreen, ColorWhite, ColorRed}

func (c Color) String() string {
	switch c {
	case ColorGreen:
		return "green"
	case ColorWhite:
		return "white"
	case ColorRed:
		return "red"
	}
	return "none"
}

func parseSequence(s string) ([]Color, error) {
	if len(s) > maxSequenceLength {
		return nil, fmt.Errorf("sequence %q longer than %d", s, maxSequenceLength)
	}

	colors := make([]Color, 0, len(s))
	for i, r := range s {
		c := Color(r - '0')
		if c < ColorGreen || c > ColorRed {
			return nil, fmt.Errorf("sequence %q: invalid color %q at %d", s, r, i)
		}
		colors = append(colors, c)
	}

	return colors, nil
}

// Actuator lights the LEDs.
type Actuator interface {
	Activate(Color)
	Deactivate(Color)
	AllOn()
	AllOff()
}

// Buttons reports which color button is currently held, if any.
// Debouncing is the implementation's job.
type Buttons interface {
	Pressed() (Color, bool)
}

type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

const (
	blinkCount     = 3
	blinkInterval  = 250 * time.Millisecond
	blinkPause     = 500 * time.Millisecond
	slowOn         = 500 * time.Millisecond
	slowOff        = 300 * time.Millisecond
	fastOn         = 200 * time.Millisecond
	fastOff        = 100 * time.Millisecond
	inputTimeout   = 10 * time.Second
	pollInterval   = 10 * time.Millisecond
	confirmFlash   = 300 * time.Millisecond
	interPressTime = 100 * time.Millisecond
)

// Engine plays a sequence on the LEDs and captures the player's answer.
// Every call blocks for the real duration of what it does.
type Engine struct {
	actuator Actuator
	buttons  Buttons
	clock    Clock

	sequence   []Color
	difficulty int
	score      int
	best       int
}

func NewEngine(actuator Actuator, buttons Buttons, clock Clock) *Engine {
	return &Engine{
		actuator:   actuator,
		buttons:    buttons,
		clock:      clock,
		difficulty: defaultDifficulty,
	}
}

func (e *Engine) Configure(sequence []Color, difficulty int) {
	e.sequence = append(e.sequence[:0], sequence...)
	e.difficulty = clampDifficulty(difficulty)
	e.score = 0
}

func (e *Engine) Length() int { return len(e.sequence) }
func (e *Engine) Score() int  { return e.score }
func (e *Engine) Best() int   { return e.best }

// AnnounceStart blinks everything as a start cue. Not difficulty-scaled.
func (e *Engine) AnnounceStart() {
	for range blinkCount {
		e.actuator.AllOn()
		e.clock.Sleep(blinkInterval)
		e.actuator.AllOff()
		e.clock.Sleep(blinkInterval)
	}
	e.clock.Sleep(blinkPause)
}

// timing interpolates on/off durations between difficulty 1 and 10.
func timing(difficulty int) (on, off time.Duration) {
	t := float64(clampDifficulty(difficulty)-minDifficulty) / float64(maxDifficulty-minDifficulty)

	lerp := func(slow, fast time.Duration) time.Duration {
		return slow - time.Duration(t*float64(slow-fast))
	}

	return lerp(slowOn, fastOn), lerp(slowOff, fastOff)
}

func (e *Engine) Playback() {
	on, off := timing(e.difficulty)

	for _, c := range e.sequence {
		e.actuator.Activate(c)
		e.clock.Sleep(on)
		e.actuator.Deactivate(c)
		e.clock.Sleep(off)
	}
}

// CaptureTurn waits for the player to repeat the sequence. Each element has
// its own timeout; a wrong color or a timeout ends the turn. onProgress,
// when set, receives the matched count after every correct press.
func (e *Engine) CaptureTurn(onProgress func(current, total int)) bool {
	total := len(e.sequence)

	for _, expected := range e.sequence {
		got, ok := e.waitPress()
		if !ok {
			return false
		}

		if got != expected {
			return false
		}

		e.score++
		e.actuator.Activate(expected)
		e.clock.Sleep(confirmFlash)
		e.actuator.Deactivate(expected)

		if onProgress != nil {
			onProgress(e.score, total)
		}

		e.waitRelease()
	}

	return true
}

func (e *Engine) waitPress() (Color, bool) {
	start := e.clock.Now()

	for {
		if c, ok := e.buttons.Pressed(); ok {
			return c, true
		}
		if e.clock.Now().Sub(start) > inputTimeout {
			return ColorNone, false
		}
		e.clock.Sleep(pollInterval)
	}
}

func (e *Engine) waitRelease() {
	for {
		if _, ok := e.buttons.Pressed(); !ok {
			break
		}
		e.clock.Sleep(pollInterval)
	}
	e.clock.Sleep(interPressTime)
}

// Finish turns everything off and keeps the best score of this run.
func (e *Engine) Finish() {
	e.actuator.AllOff()

	if e.score > e.best {
		e.best = e.score
	}
}

func clampDifficulty(d int) int {
	return max(minDifficulty, min(maxDifficulty, d))
}
