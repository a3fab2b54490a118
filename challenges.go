/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	challengesCollection = "challenges"
	challengesField      = "challenges"
	menuSize             = 5

	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusCompleted = "completed"
)

var (
	ErrNoSuchSlot = errors.New("no challenge at that position")
	ErrSlotsFull  = errors.New("every menu slot holds a pending challenge")
)

// known subfields of a challenge entry; everything else rides in extra
var entryFields = map[string]bool{
	"challenger":               true,
	"sequence":                 true,
	"difficulty":               true,
	"status":                   true,
	"pointsObtained":           true,
	"stepsCompleted":           true,
	"totalSteps":               true,
	"challengerPointsObtained": true,
}

// ChallengeEntry is one element of a player's challenges array. Index is
// its position in that array; the store has no other identity for it.
type ChallengeEntry struct {
	Index                    int    `json:"index"`
	Challenger               string `json:"challenger"`
	Sequence                 string `json:"sequence"`
	Difficulty               int    `json:"difficulty"`
	Status                   string `json:"status"`
	PointsObtained           int    `json:"points_obtained"`
	StepsCompleted           int    `json:"steps_completed,omitempty"`
	TotalSteps               int    `json:"total_steps,omitempty"`
	ChallengerPointsObtained int    `json:"challenger_points_obtained,omitempty"`

	hasResult bool
	extra     map[string]json.RawMessage
	opaque    json.RawMessage
}

func (c ChallengeEntry) Populated() bool { return c.Challenger != "" }
func (c ChallengeEntry) Completed() bool { return c.Status == StatusCompleted }

// Settlement is what gets written into a challenge once it has been played.
type Settlement struct {
	PointsObtained           int
	StepsCompleted           int
	TotalSteps               int
	ChallengerPointsObtained int
}

// decodeEntry extracts the known subfields with per-field defaults.
// Elements that are not maps are kept verbatim and read as empty slots.
func decodeEntry(index int, raw json.RawMessage) ChallengeEntry {
	entry := ChallengeEntry{
		Index:      index,
		Difficulty: defaultDifficulty,
		Status:     StatusPending,
	}

	v, err := decodeValue(raw)
	if err != nil || v.MapValue == nil {
		entry.opaque = raw
		return entry
	}

	fields := v.MapValue.Fields

	entry.Challenger = stringField(fields, "challenger", "")
	entry.Sequence = stringField(fields, "sequence", "")
	entry.Status = stringField(fields, "status", StatusPending)
	entry.Difficulty, _ = intField(fields, "difficulty", defaultDifficulty)
	entry.PointsObtained, _ = intField(fields, "pointsObtained", 0)

	var steps, total, challengerPts bool
	entry.StepsCompleted, steps = intField(fields, "stepsCompleted", 0)
	entry.TotalSteps, total = intField(fields, "totalSteps", 0)
	entry.ChallengerPointsObtained, challengerPts = intField(fields, "challengerPointsObtained", 0)
	entry.hasResult = steps || total || challengerPts

	for name, value := range fields {
		if entryFields[name] {
			continue
		}
		if entry.extra == nil {
			entry.extra = map[string]json.RawMessage{}
		}
		entry.extra[name] = value
	}

	return entry
}

func (c ChallengeEntry) encode() json.RawMessage {
	if c.opaque != nil {
		return c.opaque
	}

	fields := make(map[string]json.RawMessage, len(c.extra)+len(entryFields))
	for name, value := range c.extra {
		fields[name] = value
	}

	fields["challenger"] = mustRaw(stringValue(c.Challenger))
	fields["sequence"] = mustRaw(stringValue(c.Sequence))
	fields["pointsObtained"] = mustRaw(integerValue(c.PointsObtained))
	fields["status"] = mustRaw(stringValue(c.Status))
	fields["difficulty"] = mustRaw(integerValue(c.Difficulty))

	if c.hasResult {
		fields["stepsCompleted"] = mustRaw(integerValue(c.StepsCompleted))
		fields["totalSteps"] = mustRaw(integerValue(c.TotalSteps))
		fields["challengerPointsObtained"] = mustRaw(integerValue(c.ChallengerPointsObtained))
	}

	return mustRaw(mapValue(fields))
}

// ChallengeStore reads and rewrites a player's challenges array. The store
// can only replace a whole field, so updating one entry means rewriting
// them all. There is no version check: the last writer wins.
type ChallengeStore struct {
	transport Transport
}

func NewChallengeStore(transport Transport) *ChallengeStore {
	return &ChallengeStore{transport: transport}
}

func (s *ChallengeStore) entries(ctx context.Context, playerID string) ([]ChallengeEntry, error) {
	payload, err := s.transport.GetDocument(ctx, challengesCollection, playerID)
	if err != nil {
		return nil, fmt.Errorf("read challenges of %s: %w", playerID, err)
	}

	doc, err := decodeDocument(payload)
	if err != nil {
		return nil, fmt.Errorf("read challenges of %s: %w", playerID, err)
	}

	v, err := field(doc.Fields, challengesField)
	if err != nil {
		return nil, fmt.Errorf("read challenges of %s: %w", playerID, err)
	}
	if v.ArrayValue == nil {
		return nil, fmt.Errorf("read challenges of %s: %q is not an array: %w", playerID, challengesField, ErrFieldMissing)
	}

	entries := make([]ChallengeEntry, len(v.ArrayValue.Values))
	for i, raw := range v.ArrayValue.Values {
		entries[i] = decodeEntry(i, raw)
	}

	return entries, nil
}

// Load returns the menu slots for a player. A player without a document
// or without challenges gets empty slots, not an error.
func (s *ChallengeStore) Load(ctx context.Context, playerID string) ([]ChallengeEntry, error) {
	entries, err := s.entries(ctx, playerID)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrFieldMissing) {
		return nil, err
	}

	slots := make([]ChallengeEntry, menuSize)
	for i := range slots {
		if i < len(entries) {
			slots[i] = entries[i]
			continue
		}
		slots[i] = ChallengeEntry{Index: i, Difficulty: defaultDifficulty, Status: StatusPending}
	}

	return slots, nil
}

// FetchDifficulty returns the author's difficulty for the entry at index.
// The default is returned alongside any error so callers can carry on.
func (s *ChallengeStore) FetchDifficulty(ctx context.Context, playerID string, index int) (int, error) {
	entries, err := s.entries(ctx, playerID)
	if err != nil {
		return defaultDifficulty, err
	}

	if index < 0 || index >= len(entries) {
		return defaultDifficulty, fmt.Errorf("difficulty of %s[%d]: %w", playerID, index, ErrNoSuchSlot)
	}

	return entries[index].Difficulty, nil
}

// CompleteChallenge marks the entry at index as completed with the given
// outcome and writes the whole array back. Every other entry keeps its
// values, including subfields this program does not know about.
func (s *ChallengeStore) CompleteChallenge(ctx context.Context, playerID string, index int, outcome Settlement) error {
	entries, err := s.entries(ctx, playerID)
	if err != nil {
		return err
	}

	if index < 0 || index >= len(entries) || entries[index].opaque != nil {
		return fmt.Errorf("complete %s[%d]: %w", playerID, index, ErrNoSuchSlot)
	}

	target := &entries[index]
	target.Status = StatusCompleted
	target.PointsObtained = outcome.PointsObtained
	target.StepsCompleted = outcome.StepsCompleted
	target.TotalSteps = outcome.TotalSteps
	target.ChallengerPointsObtained = outcome.ChallengerPointsObtained
	target.hasResult = true

	if err := s.write(ctx, playerID, entries); err != nil {
		return fmt.Errorf("complete %s[%d]: %w", playerID, index, err)
	}

	return nil
}

// Create stores a pending challenge in the first menu slot that is free
// or already completed, creating the document if needed. Entries past the
// menu are never shown, so a player with every slot pending is refused.
func (s *ChallengeStore) Create(ctx context.Context, targetID, challengerID, sequence string, difficulty int) error {
	if targetID == "" || challengerID == "" {
		return errors.New("both target and challenger are required")
	}
	if challengerID == targetID {
		return errors.New("a player cannot challenge themselves")
	}
	colors, err := parseSequence(sequence)
	if err != nil {
		return err
	}
	if len(colors) == 0 {
		return errors.New("sequence must not be empty")
	}
	if difficulty < minDifficulty || difficulty > maxDifficulty {
		return fmt.Errorf("difficulty must be between %d and %d, got %d", minDifficulty, maxDifficulty, difficulty)
	}

	entries, err := s.entries(ctx, targetID)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrFieldMissing) {
		return err
	}

	index := freeSlot(entries)
	if index < 0 {
		return fmt.Errorf("challenge %s: %w", targetID, ErrSlotsFull)
	}

	entry := ChallengeEntry{
		Index:      index,
		Challenger: challengerID,
		Sequence:   sequence,
		Difficulty: difficulty,
		Status:     StatusPending,
	}
	if index < len(entries) {
		entries[index] = entry
	} else {
		entries = append(entries, entry)
	}

	return s.write(ctx, targetID, entries)
}

// freeSlot returns the first menu position a new challenge may take, or -1.
func freeSlot(entries []ChallengeEntry) int {
	for i := 0; i < menuSize; i++ {
		if i >= len(entries) {
			return i
		}
		if entries[i].opaque != nil {
			continue
		}
		if !entries[i].Populated() || entries[i].Completed() {
			return i
		}
	}

	return -1
}

func (s *ChallengeStore) write(ctx context.Context, playerID string, entries []ChallengeEntry) error {
	values := make([]json.RawMessage, len(entries))
	for i, entry := range entries {
		values[i] = entry.encode()
	}

	return s.transport.PatchField(ctx, challengesCollection, playerID, challengesField, arrayValue(values))
}
