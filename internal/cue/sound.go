// Package cue plays the local notification sound.
package cue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// ErrDisabled is returned by Play when the player has no command or file.
var ErrDisabled = errors.New("cue: sound disabled")

// Player plays a single sound file with an external command. Playing while
// a previous cue is still sounding restarts it from the beginning.
type Player struct {
	command string
	path    string

	mu      sync.Mutex
	current *exec.Cmd
}

// NewPlayer creates a Player that runs "command path" for each cue.
func NewPlayer(command, path string) *Player {
	return &Player{command: command, path: path}
}

// Path returns the sound file reference.
func (p *Player) Path() string { return p.path }

// Play stops any cue still playing and starts a new one. It returns once
// playback has started.
func (p *Player) Play(ctx context.Context) error {
	if p.command == "" || p.path == "" {
		return ErrDisabled
	}
	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("sound file: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.current.Process != nil {
		_ = p.current.Process.Kill()
	}

	cmd := exec.CommandContext(context.WithoutCancel(ctx), p.command, p.path) //nolint:gosec // command and path come from trusted config
	if err := cmd.Start(); err != nil {
		p.current = nil
		return fmt.Errorf("starting %s: %w", p.command, err)
	}
	p.current = cmd

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		if p.current == cmd {
			p.current = nil
		}
		p.mu.Unlock()
		if err != nil {
			slog.Debug("sound player exited", "command", p.command, "error", err)
		}
	}()

	return nil
}

// Stop halts the cue if one is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.Process != nil {
		_ = p.current.Process.Kill()
	}
	p.current = nil
}

func (p *Player) playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}
