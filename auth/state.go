package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// prefix for all the session keys written by the auth flow
var stateKeyPrefix = "tentauth."

// session key holding the ordered list of keys written during the current flow
var stateManifestKey = stateKeyPrefix + "_keys"

// Keys of the [FlowState] fields, without namespace prefix.
const (
	stateKeyEntity     = "entity"
	stateKeyServerURLs = "server_urls"
	stateKeyProfile    = "profile"
	stateKeyApp        = "app"
	stateKeyState      = "state"
	stateKeyCreatedAt  = "created_at"
)

var flowStateKeys = []string{
	stateKeyEntity,
	stateKeyServerURLs,
	stateKeyProfile,
	stateKeyApp,
	stateKeyState,
	stateKeyCreatedAt,
}

// Namespaced, key-tracked view over a host [SessionStore].
//
// Every key written is first recorded in a manifest, so [StateStore.DeleteAll] can remove
// exactly what the flow wrote, even if an earlier write was interrupted.
type StateStore struct {
	Session SessionStore
}

func NewStateStore(sess SessionStore) *StateStore {
	return &StateStore{Session: sess}
}

// Returns the keys (without namespace prefix) recorded in the manifest.
func (s *StateStore) Keys(ctx context.Context) ([]string, error) {
	raw, ok, err := s.Session.Get(ctx, stateManifestKey)
	if err != nil {
		return nil, fmt.Errorf("reading state manifest: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("decoding state manifest: %w", err)
	}
	return keys, nil
}

func (s *StateStore) track(ctx context.Context, key string) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	keys = append(keys, key)
	b, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return s.Session.Set(ctx, stateManifestKey, string(b))
}

// JSON-encodes the value and stores it under the namespaced key.
func (s *StateStore) Set(ctx context.Context, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding state %s: %w", key, err)
	}
	if err := s.track(ctx, key); err != nil {
		return err
	}
	if err := s.Session.Set(ctx, stateKeyPrefix+key, string(b)); err != nil {
		return fmt.Errorf("writing state %s: %w", key, err)
	}
	return nil
}

// Decodes the stored value in to `out`. Returns false if the key was not found.
func (s *StateStore) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, ok, err := s.Session.Get(ctx, stateKeyPrefix+key)
	if err != nil {
		return false, fmt.Errorf("reading state %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decoding state %s: %w", key, err)
	}
	return true, nil
}

// Removes every key recorded in the manifest, then the manifest itself. Safe to call when
// no flow state exists.
//
// If the manifest can't be read, the known flow state keys are removed instead and the
// read error is returned.
func (s *StateStore) DeleteAll(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		if derr := s.deleteKeys(ctx, flowStateKeys); derr != nil {
			return errors.Join(err, derr)
		}
		if derr := s.Session.Delete(ctx, stateManifestKey); derr != nil {
			return errors.Join(err, derr)
		}
		return err
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		return err
	}
	return s.Session.Delete(ctx, stateManifestKey)
}

func (s *StateStore) deleteKeys(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := s.Session.Delete(ctx, stateKeyPrefix+k); err != nil {
			return fmt.Errorf("deleting state %s: %w", k, err)
		}
	}
	return nil
}

// Writes all fields of a flow state.
func (s *StateStore) SaveFlowState(ctx context.Context, fs *FlowState) error {
	fields := []struct {
		key string
		val any
	}{
		{stateKeyEntity, fs.Entity},
		{stateKeyServerURLs, fs.ServerURLs},
		{stateKeyProfile, fs.Profile},
		{stateKeyApp, fs.App},
		{stateKeyState, fs.State},
		{stateKeyCreatedAt, fs.CreatedAt},
	}
	for _, f := range fields {
		if err := s.Set(ctx, f.key, f.val); err != nil {
			return err
		}
	}
	return nil
}

// Reconstructs a flow state from the session. Missing fields are left empty.
func (s *StateStore) LoadFlowState(ctx context.Context) (*FlowState, error) {
	var fs FlowState
	fields := []struct {
		key string
		out any
	}{
		{stateKeyEntity, &fs.Entity},
		{stateKeyServerURLs, &fs.ServerURLs},
		{stateKeyProfile, &fs.Profile},
		{stateKeyApp, &fs.App},
		{stateKeyState, &fs.State},
		{stateKeyCreatedAt, &fs.CreatedAt},
	}
	for _, f := range fields {
		if _, err := s.Get(ctx, f.key, f.out); err != nil {
			return nil, err
		}
	}
	return &fs, nil
}
