package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// cliState is what login remembers between invocations.
type cliState struct {
	HTTPURL  string `toml:"http_url,omitempty"`
	GRPCAddr string `toml:"grpc_addr,omitempty"`
	Username string `toml:"username,omitempty"`
	Token    string `toml:"token,omitempty"`
}

func statePath() (string, error) {
	dir := os.Getenv("HOMEWATCH_STATE_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".local", "state", "homewatch")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "cli.toml"), nil
}

func loadState() (cliState, error) {
	path, err := statePath()
	if err != nil {
		return cliState{}, err
	}
	var st cliState
	if _, err := toml.DecodeFile(path, &st); err != nil {
		if os.IsNotExist(err) {
			return cliState{}, nil
		}
		return cliState{}, fmt.Errorf("read %s: %w", path, err)
	}
	return st, nil
}

// saveState writes st with owner-only permissions since it holds a token.
func saveState(st cliState) error {
	path, err := statePath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(st)
}

var (
	stateOnce   sync.Once
	cachedState cliState
)

// loadStateOnce returns the saved state, loading it once per process. An
// unreadable state file is reported on stderr and treated as empty.
func loadStateOnce() cliState {
	stateOnce.Do(func() {
		cachedState = loadStateOrWarn(os.Stderr)
	})
	return cachedState
}

func loadStateOrWarn(w io.Writer) cliState {
	st, err := loadState()
	if err != nil {
		fmt.Fprintf(w, "Warning: ignoring CLI state (run 'homewatch login' to recreate it): %v\n", err)
		return cliState{}
	}
	return st
}
