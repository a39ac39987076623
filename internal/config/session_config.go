package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	maxSessionAgeEnvVar = "NOTIFICA_MAX_SESSION_AGE"
	stateFileEnvVar     = "NOTIFICA_STATE_FILE"

	defaultMaxSessionAge = 8 * time.Hour
)

type SessionConfig interface {
	GetMaxSessionAge() time.Duration
	GetStateFile() string
}

type Session struct {
	values fileValues
}

var _ SessionConfig = Session{}

// GetMaxSessionAge is the client-enforced session lifetime, counted from the
// first successful login. Invalid or non-positive values fall back to 8h.
func (s Session) GetMaxSessionAge() time.Duration {
	d, err := time.ParseDuration(s.values.get(maxSessionAgeEnvVar, defaultMaxSessionAge.String()))
	if err != nil || d <= 0 {
		return defaultMaxSessionAge
	}
	return d
}

// GetStateFile is the SQLite file holding local persistent state (the stored
// session and the session-start marker).
func (s Session) GetStateFile() string {
	return s.values.get(stateFileEnvVar, defaultStateFile())
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "notifica", "state.db")
}
