package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BotState is the minimal durable state needed to resume after a
// restart: which coin the bot trades, whether a position was open and
// since when, and the rotation clock.
type BotState struct {
	CurrentCoin      string     `json:"current_coin"`
	PositionCoin     string     `json:"position_coin,omitempty"`
	PositionOpenTime *time.Time `json:"position_open_time,omitempty"`
	LastRotationTime *time.Time `json:"last_rotation_time,omitempty"`
}

// Store persists BotState to a JSON file with atomic writes.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *logrus.Logger
	state  BotState
}

func NewStore(stateDir, defaultCoin string, logger *logrus.Logger) (*Store, error) {
	s := &Store{
		path:   filepath.Join(stateDir, "bot_state.json"),
		logger: logger,
	}
	if err := s.load(defaultCoin); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(defaultCoin string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.state = BotState{CurrentCoin: defaultCoin}
			return s.persist()
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(raw, &s.state); err != nil {
		s.logger.WithError(err).Warn("State file corrupt, using defaults")
		s.state = BotState{CurrentCoin: defaultCoin}
		return s.persist()
	}
	if s.state.CurrentCoin == "" {
		s.state.CurrentCoin = defaultCoin
	}
	return nil
}

func (s *Store) persist() error {
	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Get returns a copy of the current state.
func (s *Store) Get() BotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Update applies fn to the state and persists the result.
func (s *Store) Update(fn func(*BotState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	return s.persist()
}

// SetCoin records the active coin.
func (s *Store) SetCoin(coin string) error {
	return s.Update(func(st *BotState) {
		st.CurrentCoin = coin
	})
}

// MarkPositionOpen records an open position on coin at ts.
func (s *Store) MarkPositionOpen(coin string, ts time.Time) error {
	return s.Update(func(st *BotState) {
		st.PositionCoin = coin
		st.PositionOpenTime = &ts
	})
}

// MarkPositionClosed clears any recorded position.
func (s *Store) MarkPositionClosed() error {
	return s.Update(func(st *BotState) {
		st.PositionCoin = ""
		st.PositionOpenTime = nil
	})
}

// MarkRotation records the time of the latest rotation.
func (s *Store) MarkRotation(ts time.Time) error {
	return s.Update(func(st *BotState) {
		st.LastRotationTime = &ts
	})
}
