/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"fmt"
)

const (
	usersCollection = "users"
	pointsField     = "points"
)

// UserStore keeps the point balance of each player.
type UserStore struct {
	transport Transport
}

func NewUserStore(transport Transport) *UserStore {
	return &UserStore{transport: transport}
}

// Points has no safe default: a user without a balance is an error.
func (s *UserStore) Points(ctx context.Context, userID string) (int, error) {
	payload, err := s.transport.GetDocument(ctx, usersCollection, userID)
	if err != nil {
		return 0, fmt.Errorf("read points of %s: %w", userID, err)
	}

	doc, err := decodeDocument(payload)
	if err != nil {
		return 0, fmt.Errorf("read points of %s: %w", userID, err)
	}

	v, err := field(doc.Fields, pointsField)
	if err != nil {
		return 0, fmt.Errorf("read points of %s: %w", userID, err)
	}

	points, ok := v.asInt()
	if !ok {
		return 0, fmt.Errorf("read points of %s: %q is not an integer: %w", userID, pointsField, ErrFieldMissing)
	}

	return points, nil
}

// ApplyDelta adds delta to the balance, never going below zero, and
// returns the stored value.
func (s *UserStore) ApplyDelta(ctx context.Context, userID string, delta int) (int, error) {
	current, err := s.Points(ctx, userID)
	if err != nil {
		return 0, err
	}

	updated := max(0, current+delta)

	if err := s.transport.PatchField(ctx, usersCollection, userID, pointsField, integerValue(updated)); err != nil {
		return current, fmt.Errorf("write points of %s: %w", userID, err)
	}

	return updated, nil
}
