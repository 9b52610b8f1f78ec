// Package alerts persists the Twitch alert state: which channels watch which
// streamers, per-channel live symbols, and the announcement messages currently
// posted for each streamer. State is one JSON document in the kv store, read
// fully and rewritten fully on every mutation under a single mutex so
// concurrent callers cannot lose updates.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// StateKey is the kv document key holding alert state.
const StateKey = "twitch-alerts"

// KV is the durable backing store. A missing key is a first-run condition;
// any other failure is fatal to the calling operation.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// MessageRef identifies one announcement message posted to a channel.
type MessageRef struct {
	ChannelID string `json:"channelID"`
	MessageID string `json:"messageID"`
}

type state struct {
	ChannelUsers       map[string][]string     `json:"channelUsers"`
	ChannelLiveSymbols map[string]string       `json:"channelLiveSymbols"`
	UserMessages       map[string][]MessageRef `json:"userMessages"`
}

func emptyState() *state {
	return &state{
		ChannelUsers:       map[string][]string{},
		ChannelLiveSymbols: map[string]string{},
		UserMessages:       map[string][]MessageRef{},
	}
}

// Store is the alert state store.
type Store struct {
	mu sync.Mutex
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// load reads the full document. A missing or unparsable document initializes
// to the empty structure and persists it.
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
		slog.Warn("alert state unparsable, reinitializing", slog.Any("err", err))
		st = emptyState()
		if err := s.save(ctx, st); err != nil {
			return nil, err
		}
		return st, nil
	}
	if st.ChannelUsers == nil {
		st.ChannelUsers = map[string][]string{}
	}
	if st.ChannelLiveSymbols == nil {
		st.ChannelLiveSymbols = map[string]string{}
	}
	if st.UserMessages == nil {
		st.UserMessages = map[string][]MessageRef{}
	}
	return st, nil
}

func (s *Store) save(ctx context.Context, st *state) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal alert state: %w", err)
	}
	return s.kv.Set(ctx, StateKey, string(raw))
}

// withState runs mutate against the loaded document inside the store's
// critical section, persisting when the mutator reports a change.
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

// UsersForChannel returns the streamers a channel watches, in subscription order.
func (s *Store) UsersForChannel(ctx context.Context, channelID string) ([]string, error) {
	var users []string
	err := s.withState(ctx, func(st *state) (bool, error) {
		users = slices.Clone(st.ChannelUsers[channelID])
		return false, nil
	})
	return users, err
}

// ChannelsForUser returns all channels watching a streamer, sorted for
// deterministic iteration.
func (s *Store) ChannelsForUser(ctx context.Context, username string) ([]string, error) {
	var channels []string
	err := s.withState(ctx, func(st *state) (bool, error) {
		for channelID, users := range st.ChannelUsers {
			if slices.Contains(users, username) {
				channels = append(channels, channelID)
			}
		}
		slices.Sort(channels)
		return false, nil
	})
	return channels, err
}

// Users returns every streamer watched by at least one channel.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := s.withState(ctx, func(st *state) (bool, error) {
		seen := map[string]bool{}
		channelIDs := make([]string, 0, len(st.ChannelUsers))
		for channelID := range st.ChannelUsers {
			channelIDs = append(channelIDs, channelID)
		}
		slices.Sort(channelIDs)
		for _, channelID := range channelIDs {
			for _, username := range st.ChannelUsers[channelID] {
				if !seen[username] {
					seen[username] = true
					users = append(users, username)
				}
			}
		}
		return false, nil
	})
	return users, err
}

// Subscribe adds a channel-to-streamer edge. Returns false without persisting
// when the edge already exists.
func (s *Store) Subscribe(ctx context.Context, channelID, username string) (bool, error) {
	added := false
	err := s.withState(ctx, func(st *state) (bool, error) {
		if slices.Contains(st.ChannelUsers[channelID], username) {
			return false, nil
		}
		st.ChannelUsers[channelID] = append(st.ChannelUsers[channelID], username)
		added = true
		return true, nil
	})
	return added, err
}

// Unsubscribe removes a channel-to-streamer edge. Returns false when the edge
// did not exist.
func (s *Store) Unsubscribe(ctx context.Context, channelID, username string) (bool, error) {
	removed := false
	err := s.withState(ctx, func(st *state) (bool, error) {
		users := st.ChannelUsers[channelID]
		idx := slices.Index(users, username)
		if idx < 0 {
			return false, nil
		}
		st.ChannelUsers[channelID] = slices.Delete(users, idx, idx+1)
		if len(st.ChannelUsers[channelID]) == 0 {
			delete(st.ChannelUsers, channelID)
		}
		removed = true
		return true, nil
	})
	return removed, err
}

// LiveSymbol returns the suffix appended to a channel's name while an alert is
// active, and whether one is configured.
func (s *Store) LiveSymbol(ctx context.Context, channelID string) (string, bool, error) {
	var symbol string
	var found bool
	err := s.withState(ctx, func(st *state) (bool, error) {
		symbol, found = st.ChannelLiveSymbols[channelID]
		return false, nil
	})
	return symbol, found, err
}

// SetLiveSymbol stores a channel's live symbol. The store performs no
// live-state validation; the command layer refuses changes while live.
func (s *Store) SetLiveSymbol(ctx context.Context, channelID, symbol string) error {
	return s.withState(ctx, func(st *state) (bool, error) {
		st.ChannelLiveSymbols[channelID] = symbol
		return true, nil
	})
}

// ClearLiveSymbol removes a channel's live symbol.
func (s *Store) ClearLiveSymbol(ctx context.Context, channelID string) error {
	return s.withState(ctx, func(st *state) (bool, error) {
		delete(st.ChannelLiveSymbols, channelID)
		return true, nil
	})
}

// Messages returns the announcement messages currently posted for a streamer.
func (s *Store) Messages(ctx context.Context, userID string) ([]MessageRef, error) {
	var refs []MessageRef
	err := s.withState(ctx, func(st *state) (bool, error) {
		refs = slices.Clone(st.UserMessages[userID])
		return false, nil
	})
	return refs, err
}

// AddMessages appends announcement messages posted for a streamer.
func (s *Store) AddMessages(ctx context.Context, userID string, refs []MessageRef) error {
	if len(refs) == 0 {
		return nil
	}
	return s.withState(ctx, func(st *state) (bool, error) {
		st.UserMessages[userID] = append(st.UserMessages[userID], refs...)
		return true, nil
	})
}

// RemoveMessages clears all announcement messages recorded for a streamer.
func (s *Store) RemoveMessages(ctx context.Context, userID string) error {
	return s.withState(ctx, func(st *state) (bool, error) {
		if _, ok := st.UserMessages[userID]; !ok {
			return false, nil
		}
		delete(st.UserMessages, userID)
		return true, nil
	})
}

// LiveChannels returns every channel with at least one outstanding
// announcement message. "Live" is defined operationally by the presence of
// messages, not a separate flag.
func (s *Store) LiveChannels(ctx context.Context) ([]string, error) {
	var channels []string
	err := s.withState(ctx, func(st *state) (bool, error) {
		seen := map[string]bool{}
		for _, refs := range st.UserMessages {
			for _, ref := range refs {
				if !seen[ref.ChannelID] {
					seen[ref.ChannelID] = true
					channels = append(channels, ref.ChannelID)
				}
			}
		}
		slices.Sort(channels)
		return false, nil
	})
	return channels, err
}
