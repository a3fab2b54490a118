/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "math"

const (
	minDifficulty     = 1
	maxDifficulty     = 10
	defaultDifficulty = 5

	maxSequenceLength = 15
	mirrorBase        = 20
	growthRate        = 1.5
	minLossShare      = 0.10
	bonusPerLevel     = 0.10
)

// GameResult is the outcome of one play, never stored on its own.
type GameResult struct {
	Score           int  `json:"score"`
	SequenceLength  int  `json:"sequence_length"`
	Success         bool `json:"success"`
	PointsGained    int  `json:"points_gained"`
	PointsInflicted int  `json:"points_inflicted"`
}

// potential is the exponential curve shared by wins and losses.
func potential(length int) float64 {
	return 2 * (math.Pow(growthRate, float64(length)) - 1)
}

func difficultyBonus(difficulty int) float64 {
	return 1 + float64(difficulty-1)*bonusPerLevel
}

func pointsToWin(length, difficulty int) int {
	return int(math.Round(potential(length) * difficultyBonus(difficulty)))
}

// pointsToLose mirrors the length so that short, easy challenges still
// carry a real downside, with a floor at a tenth of the longest win.
func pointsToLose(length, difficulty int) int {
	minLoss := minLossShare * potential(maxSequenceLength)
	baseLose := math.Max(minLoss, potential(mirrorBase-length))

	return int(math.Round(baseLose / difficultyBonus(difficulty)))
}

// calculateResult turns a capture outcome into the points moved between
// the player and the challenger.
func calculateResult(score, length, difficulty int) GameResult {
	win := pointsToWin(length, difficulty)
	lose := pointsToLose(length, difficulty)

	// An empty sequence is vacuously complete.
	ratio := 1.0
	if length > 0 {
		ratio = float64(score) / float64(length)
	}

	gained := int(math.Round(float64(-lose) + float64(win+lose)*ratio))

	return GameResult{
		Score:           score,
		SequenceLength:  length,
		Success:         score == length,
		PointsGained:    gained,
		PointsInflicted: -gained,
	}
}
