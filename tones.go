package main

import (
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"
)

const sampleRate = beep.SampleRate(44100)

// Classic simon pitches, one per LED.
var toneFrequency = map[Color]float64{
	ColorGreen: 415,
	ColorWhite: 252,
	ColorRed:   310,
}

// tonePlayer keeps one paused sine per color in a mixer and unpauses it
// while the matching LED is lit.
type tonePlayer struct {
	tones map[Color]*beep.Ctrl
}

func newTonePlayer() (*tonePlayer, error) {
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return nil, err
	}

	p := &tonePlayer{tones: make(map[Color]*beep.Ctrl, len(palette))}
	mixer := &beep.Mixer{}

	for _, c := range palette {
		sine, err := generators.SineTone(sampleRate, toneFrequency[c])
		if err != nil {
			speaker.Close()
			return nil, err
		}

		// Quiet enough that all three together do not clip.
		ctrl := &beep.Ctrl{Streamer: &effects.Volume{Streamer: sine, Base: 2, Volume: -2}, Paused: true}
		p.tones[c] = ctrl
		mixer.Add(ctrl)
	}

	speaker.Play(mixer)

	return p, nil
}

func (p *tonePlayer) set(c Color, on bool) {
	ctrl, ok := p.tones[c]
	if !ok {
		return
	}

	speaker.Lock()
	ctrl.Paused = !on
	speaker.Unlock()
}

func (p *tonePlayer) Start(c Color) { p.set(c, true) }
func (p *tonePlayer) Stop(c Color)  { p.set(c, false) }

func (p *tonePlayer) StopAll() {
	for _, c := range palette {
		p.set(c, false)
	}
}

func (p *tonePlayer) Close() {
	speaker.Clear()
	speaker.Close()
}
