// Package reminders persists scheduled reminders per channel and runs the
// periodic sweep that announces and consumes the due ones.
package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// StateKey is the kv document key holding reminder state.
const StateKey = "reminders"

// KV is the durable backing store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Target identifies who a reminder mentions.
type Target struct {
	Type string `json:"type"` // "user" or "role"
	ID   string `json:"id"`
}

// Reminder is a scheduled announcement. Timestamp is epoch milliseconds.
type Reminder struct {
	Content   string `json:"content"`
	Target    Target `json:"target"`
	Timestamp int64  `json:"timestamp"`
}

type state struct {
	ChannelReminders map[string][]Reminder `json:"channelReminders"`
}

func emptyState() *state {
	return &state{ChannelReminders: map[string][]Reminder{}}
}

// Store is the reminder store. Reminders within a channel keep insertion
// order; that order is also the display numbering users remove by.
type Store struct {
	mu sync.Mutex
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) load(ctx context.Context) (*state, error) {
	raw, found, err := s.kv.Get(ctx, StateKey)
	if err != nil {
		return nil, err
	}
	if !found {
		st := emptyState()
		if err := s.save(ctx, st); err != nil {
			return nil, err
		}
		return st, nil
	}
	st := emptyState()
	if err := json.Unmarshal([]byte(raw), st); err != nil {
		slog.Warn("reminder state unparsable, reinitializing", slog.Any("err", err))
		st = emptyState()
		if err := s.save(ctx, st); err != nil {
			return nil, err
		}
		return st, nil
	}
	if st.ChannelReminders == nil {
		st.ChannelReminders = map[string][]Reminder{}
	}
	return st, nil
}

func (s *Store) save(ctx context.Context, st *state) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal reminder state: %w", err)
	}
	return s.kv.Set(ctx, StateKey, string(raw))
}

func (s *Store) withState(ctx context.Context, mutate func(st *state) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(ctx)
	if err != nil {
		return err
	}
	dirty, err := mutate(st)
	if err != nil {
		return err
	}
	if dirty {
		return s.save(ctx, st)
	}
	return nil
}

// ChannelsWithReminders returns every channel holding at least one reminder.
func (s *Store) ChannelsWithReminders(ctx context.Context) ([]string, error) {
	var channels []string
	err := s.withState(ctx, func(st *state) (bool, error) {
		for channelID := range st.ChannelReminders {
			channels = append(channels, channelID)
		}
		slices.Sort(channels)
		return false, nil
	})
	return channels, err
}

// ForChannel returns a channel's reminders in insertion order.
func (s *Store) ForChannel(ctx context.Context, channelID string) ([]Reminder, error) {
	var reminders []Reminder
	err := s.withState(ctx, func(st *state) (bool, error) {
		reminders = slices.Clone(st.ChannelReminders[channelID])
		return false, nil
	})
	return reminders, err
}

// Add appends a reminder to a channel.
func (s *Store) Add(ctx context.Context, channelID string, r Reminder) error {
	return s.withState(ctx, func(st *state) (bool, error) {
		st.ChannelReminders[channelID] = append(st.ChannelReminders[channelID], r)
		return true, nil
	})
}

// Remove deletes the reminder at idx from a channel, returning it. The second
// return value is false when the index is out of range.
func (s *Store) Remove(ctx context.Context, channelID string, idx int) (Reminder, bool, error) {
	var removed Reminder
	var ok bool
	err := s.withState(ctx, func(st *state) (bool, error) {
		reminders := st.ChannelReminders[channelID]
		if idx < 0 || idx >= len(reminders) {
			return false, nil
		}
		removed = reminders[idx]
		st.ChannelReminders[channelID] = slices.Delete(reminders, idx, idx+1)
		if len(st.ChannelReminders[channelID]) == 0 {
			delete(st.ChannelReminders, channelID)
		}
		ok = true
		return true, nil
	})
	return removed, ok, err
}
