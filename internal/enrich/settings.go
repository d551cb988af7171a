// Package enrich attaches an asynchronous confidence/summary verdict to
// signals that have already been emitted.
package enrich

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"signal-enginev1/internal/model"
)

// ErrUnknownMode is returned by ParseMode for anything other than local/remote.
var ErrUnknownMode = errors.New("enrich: unknown mode")

// ParseMode validates a mode name (case-insensitive).
func ParseMode(s string) (model.Mode, error) {
	switch model.Mode(strings.ToLower(strings.TrimSpace(s))) {
	case model.ModeLocal:
		return model.ModeLocal, nil
	case model.ModeRemote:
		return model.ModeRemote, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Settings holds the runtime-mutable enrichment mode and remote credential.
type Settings struct {
	mu         sync.RWMutex
	mode       model.Mode
	credential string
}

// NewSettings creates settings with the given starting mode and credential.
func NewSettings(mode model.Mode, credential string) *Settings {
	if mode == "" {
		mode = model.ModeLocal
	}
	return &Settings{mode: mode, credential: credential}
}

// Mode returns the current mode.
func (s *Settings) Mode() model.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches the backend used by jobs dispatched from now on.
func (s *Settings) SetMode(m model.Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// Credential returns the remote API key ("" when unset).
func (s *Settings) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

// SetCredential replaces the remote API key.
func (s *Settings) SetCredential(v string) {
	s.mu.Lock()
	s.credential = strings.TrimSpace(v)
	s.mu.Unlock()
}

// HasCredential reports whether a remote API key is configured.
func (s *Settings) HasCredential() bool {
	return s.Credential() != ""
}

// snapshot reads mode and credential together.
func (s *Settings) snapshot() (model.Mode, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode, s.credential
}
