/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"time"
)

type Event int

const (
	EventUp Event = iota + 1
	EventDown
	EventSelect
)

func (e Event) String() string {
	switch e {
	case EventUp:
		return "up"
	case EventDown:
		return "down"
	case EventSelect:
		return "select"
	}
	return "unknown"
}

type State int

const (
	StateMenu State = iota
	StateDifficultySelect
	StatePlaying
	StateGameOver
)

func (s State) String() string {
	switch s {
	case StateMenu:
		return "menu"
	case StateDifficultySelect:
		return "difficulty"
	case StatePlaying:
		return "playing"
	case StateGameOver:
		return "game-over"
	}
	return "unknown"
}

const defaultRefreshInterval = 30 * time.Second

// Display receives what to show. The session never reads from it.
type Display interface {
	ShowMenu(entries []ChallengeEntry, selected int)
	ShowDifficulty(value int)
	ShowPlaying(challenger string, length, difficulty int)
	ShowProgress(current, total int)
	ShowResult(result GameResult, challenger string)
	ShowError(message string)
}

// Session is the device's state machine: menu, difficulty choice, a
// blocking play, then the result screen.
type Session struct {
	cfg        *Config
	engine     *Engine
	display    Display
	challenges *ChallengeStore
	users      *UserStore

	playerID     string
	state        State
	slots        []ChallengeEntry
	difficulties [menuSize]int
	cursor       int
	difficulty   int
	current      ChallengeEntry
	lastResult   GameResult
}

func NewSession(cfg *Config, engine *Engine, display Display, challenges *ChallengeStore, users *UserStore) *Session {
	s := &Session{
		cfg:        cfg,
		engine:     engine,
		display:    display,
		challenges: challenges,
		users:      users,
		state:      StateMenu,
		slots:      make([]ChallengeEntry, menuSize),
		difficulty: defaultDifficulty,
	}

	for i := range s.difficulties {
		s.difficulties[i] = defaultDifficulty
	}

	return s
}

func (s *Session) State() State            { return s.state }
func (s *Session) Cursor() int             { return s.cursor }
func (s *Session) Difficulty() int         { return s.difficulty }
func (s *Session) LastResult() GameResult  { return s.lastResult }
func (s *Session) Slots() []ChallengeEntry { return s.slots }

func (s *Session) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.requestTimeout)
}

// Load fetches the player's challenges for the first time. Unlike later
// refreshes, a failure here is returned: the device cannot start without it.
func (s *Session) Load(ctx context.Context, playerID string) error {
	s.playerID = playerID

	slots, err := s.fetchSlots(ctx)
	if err != nil {
		logf(s.cfg, "STORE: Failed to load challenges for %s: %v", playerID, err)
		s.display.ShowError("Failed to load challenges. Restart the device.")

		return err
	}

	s.replaceSlots(slots)
	s.cursor = s.firstPopulated()
	s.state = StateMenu
	s.display.ShowMenu(s.slots, s.cursor)

	return nil
}

func (s *Session) fetchSlots(ctx context.Context) ([]ChallengeEntry, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	return s.challenges.Load(ctx, s.playerID)
}

// replaceSlots swaps in a fresh list and takes each populated slot's
// difficulty from the same read.
func (s *Session) replaceSlots(slots []ChallengeEntry) {
	s.slots = slots

	for i := range s.difficulties {
		s.difficulties[i] = defaultDifficulty

		if i < len(slots) && slots[i].Populated() {
			s.difficulties[i] = clampDifficulty(slots[i].Difficulty)
		}
	}
}

func (s *Session) firstPopulated() int {
	for i, slot := range s.slots {
		if slot.Populated() {
			return i
		}
	}
	return 0
}

// moveCursor steps over populated slots only, wrapping at both ends.
func (s *Session) moveCursor(step int) {
	n := len(s.slots)
	if n == 0 {
		return
	}

	for i := 1; i <= n; i++ {
		next := ((s.cursor+step*i)%n + n) % n
		if s.slots[next].Populated() {
			s.cursor = next
			return
		}
	}
}

// Handle applies one input event. Selecting a difficulty runs the whole
// game before returning.
func (s *Session) Handle(ctx context.Context, ev Event) {
	switch s.state {
	case StateMenu:
		s.handleMenu(ctx, ev)
	case StateDifficultySelect:
		s.handleDifficulty(ctx, ev)
	case StateGameOver:
		s.handleGameOver(ctx, ev)
	}
}

func (s *Session) handleMenu(_ context.Context, ev Event) {
	switch ev {
	case EventUp:
		s.moveCursor(-1)
		s.display.ShowMenu(s.slots, s.cursor)
	case EventDown:
		s.moveCursor(1)
		s.display.ShowMenu(s.slots, s.cursor)
	case EventSelect:
		if s.cursor < 0 || s.cursor >= len(s.slots) {
			return
		}

		slot := s.slots[s.cursor]
		if !slot.Populated() {
			return
		}
		if slot.Completed() {
			logf(s.cfg, "GAMES: Challenge %d from %s already completed", slot.Index, slot.Challenger)
			return
		}
		if _, err := parseSequence(slot.Sequence); err != nil {
			logf(s.cfg, "GAMES: Cannot play challenge %d: %v", slot.Index, err)
			return
		}

		s.current = slot
		s.difficulty = s.difficulties[s.cursor]
		s.state = StateDifficultySelect
		s.display.ShowDifficulty(s.difficulty)
	}
}

func (s *Session) handleDifficulty(ctx context.Context, ev Event) {
	switch ev {
	case EventUp:
		s.difficulty = clampDifficulty(s.difficulty + 1)
		s.display.ShowDifficulty(s.difficulty)
	case EventDown:
		s.difficulty = clampDifficulty(s.difficulty - 1)
		s.display.ShowDifficulty(s.difficulty)
	case EventSelect:
		s.play(ctx)
	}
}

func (s *Session) handleGameOver(ctx context.Context, ev Event) {
	if ev != EventSelect {
		return
	}

	slots, err := s.fetchSlots(ctx)
	if err != nil {
		logf(s.cfg, "STORE: Keeping previous challenges, reload failed: %v", err)
	} else {
		s.replaceSlots(slots)
	}

	s.difficulty = defaultDifficulty
	if s.cursor >= len(s.slots) || !s.slots[s.cursor].Populated() {
		s.cursor = s.firstPopulated()
	}
	s.state = StateMenu
	s.display.ShowMenu(s.slots, s.cursor)
}

// play is the entry action of the Playing state. It blocks until the
// player finishes or times out; there is no way to abort it.
func (s *Session) play(ctx context.Context) {
	sequence, _ := parseSequence(s.current.Sequence)

	s.state = StatePlaying
	s.engine.Configure(sequence, s.difficulty)
	s.display.ShowPlaying(s.current.Challenger, len(sequence), s.difficulty)

	logf(s.cfg, "GAMES: Playing challenge %d from %s, %d colors at difficulty %d",
		s.current.Index, s.current.Challenger, len(sequence), s.difficulty)

	s.engine.AnnounceStart()
	s.engine.Playback()
	s.display.ShowProgress(0, len(sequence))

	completed := s.engine.CaptureTurn(s.display.ShowProgress)
	s.engine.Finish()

	s.lastResult = calculateResult(s.engine.Score(), len(sequence), s.difficulty)

	logf(s.cfg, "GAMES: Finished with %d/%d (completed: %t), %+d points",
		s.lastResult.Score, s.lastResult.SequenceLength, completed, s.lastResult.PointsGained)

	s.settle(ctx, s.lastResult)

	s.state = StateGameOver
	s.display.ShowResult(s.lastResult, s.current.Challenger)
}

// settle persists a result. Each write is attempted even if an earlier one
// failed; failures are only logged.
func (s *Session) settle(ctx context.Context, result GameResult) {
	sctx, cancel := s.storeContext(ctx)
	err := s.challenges.CompleteChallenge(sctx, s.playerID, s.current.Index, Settlement{
		PointsObtained:           result.PointsGained,
		StepsCompleted:           result.Score,
		TotalSteps:               result.SequenceLength,
		ChallengerPointsObtained: result.PointsInflicted,
	})
	cancel()
	if err != nil {
		logf(s.cfg, "STORE: Failed to complete challenge: %v", err)
	}

	for _, transfer := range []struct {
		user  string
		delta int
	}{
		{s.playerID, result.PointsGained},
		{s.current.Challenger, result.PointsInflicted},
	} {
		sctx, cancel := s.storeContext(ctx)
		points, err := s.users.ApplyDelta(sctx, transfer.user, transfer.delta)
		cancel()
		if err != nil {
			logf(s.cfg, "STORE: Failed to apply %+d points to %s: %v", transfer.delta, transfer.user, err)
			continue
		}
		logf(s.cfg, "STORE: %s now has %d points", transfer.user, points)
	}
}

// Refresh re-reads the challenges while the menu is showing and redraws
// it if any slot changed. Failures keep the current data.
func (s *Session) Refresh(ctx context.Context) {
	if s.state != StateMenu {
		return
	}

	slots, err := s.fetchSlots(ctx)
	if err != nil {
		logf(s.cfg, "STORE: Refresh failed: %v", err)
		return
	}

	if !slotsChanged(s.slots, slots) {
		return
	}

	s.replaceSlots(slots)
	if s.cursor >= len(s.slots) || !s.slots[s.cursor].Populated() {
		s.cursor = s.firstPopulated()
	}
	s.display.ShowMenu(s.slots, s.cursor)
}

func slotsChanged(old, fresh []ChallengeEntry) bool {
	if len(old) != len(fresh) {
		return true
	}

	for i := range old {
		if old[i].Index != fresh[i].Index ||
			old[i].Challenger != fresh[i].Challenger ||
			old[i].Sequence != fresh[i].Sequence ||
			old[i].Status != fresh[i].Status ||
			old[i].Difficulty != fresh[i].Difficulty {
			return true
		}
	}

	return false
}

// Run drives the session from events and the refresh timer until ctx is
// done or events is closed.
func (s *Session) Run(ctx context.Context, events <-chan Event) error {
	interval := s.cfg.refresh
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			before := s.state
			s.Handle(ctx, ev)

			if before == StateDifficultySelect && s.state == StateGameOver {
				drain(events)
			}
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// drain drops input that piled up while the game was running.
func drain(events <-chan Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
