/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"fmt"
	"log"
	"os"
)

// frontPanel is everything the device has physically: a screen, a
// joystick, colored buttons and their LEDs.
type frontPanel interface {
	Display
	Actuator
	Buttons
	Events() <-chan Event
	Close() error
}

func openPanel(ctx context.Context, cfg *Config, stop context.CancelFunc) (frontPanel, error) {
	switch cfg.panel {
	case "web":
		return newWebPanel(ctx, cfg, stop), nil
	default:
		// The screen belongs to the panel now; keep logs off it.
		logFile, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		log.SetOutput(logFile)

		panel, err := newTerminalPanel(cfg, stop)
		if err != nil {
			log.SetOutput(os.Stderr)
			logFile.Close()
			return nil, err
		}
		panel.logFile = logFile

		return panel, nil
	}
}

func Play(ctx context.Context, cfg *Config) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	logf(cfg, "START: simonduel v%s for player %s (%s panel)", releaseVersion, cfg.player, cfg.panel)

	transport := NewRESTTransport(cfg.storeURL, cfg.project, cfg.apiKey, cfg.requestTimeout)

	panel, err := openPanel(ctx, cfg, stop)
	if err != nil {
		return err
	}
	defer panel.Close()

	engine := NewEngine(panel, panel, systemClock{})
	session := NewSession(cfg, engine, panel, NewChallengeStore(transport), NewUserStore(transport))

	if err := session.Load(ctx, cfg.player); err != nil {
		// The error stays on screen until the player quits.
		<-ctx.Done()

		return fmt.Errorf("load challenges: %w", err)
	}

	return session.Run(ctx, panel.Events())
}

func SendChallenge(ctx context.Context, cfg *Config) error {
	transport := NewRESTTransport(cfg.storeURL, cfg.project, cfg.apiKey, cfg.requestTimeout)
	store := NewChallengeStore(transport)

	ctx, cancel := context.WithTimeout(ctx, cfg.requestTimeout)
	defer cancel()

	if err := store.Create(ctx, cfg.target, cfg.from, cfg.sequence, cfg.difficulty); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}

	fmt.Printf("Challenge sent to %s: %d colors at difficulty %d\n", cfg.target, len(cfg.sequence), cfg.difficulty)

	return nil
}
