package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreManifest(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	sess := NewMemSession()
	st := NewStateStore(sess)

	require.NoError(st.Set(ctx, "entity", "https://example.com"))
	require.NoError(st.Set(ctx, "state", "abc"))
	require.NoError(st.Set(ctx, "entity", "https://other.example.com"))

	keys, err := st.Keys(ctx)
	require.NoError(err)
	assert.Equal([]string{"entity", "state"}, keys)

	var entity string
	ok, err := st.Get(ctx, "entity", &entity)
	require.NoError(err)
	assert.True(ok)
	assert.Equal("https://other.example.com", entity)

	ok, err = st.Get(ctx, "missing", &entity)
	assert.NoError(err)
	assert.False(ok)

	// host keys outside the namespace are never touched
	require.NoError(sess.Set(ctx, "user_id", "42"))
	require.NoError(st.DeleteAll(ctx))
	assert.Equal(map[string]string{"user_id": "42"}, sess.Snapshot())

	// no-op on an empty session
	assert.NoError(st.DeleteAll(ctx))
}

func TestStateStoreManifestWrittenFirst(t *testing.T) {
	ctx := context.Background()
	sess := NewMemSession()
	st := NewStateStore(sess)

	// a value which can't be encoded is never tracked or written
	assert.Error(t, st.Set(ctx, "bad", make(chan int)))
	assert.Empty(t, sess.Snapshot())

	require.NoError(t, st.Set(ctx, "good", 1))
	snap := sess.Snapshot()
	assert.Equal(t, `["good"]`, snap[stateManifestKey])
	assert.Equal(t, "1", snap["tentauth.good"])
}

func TestStateStoreCorruptManifest(t *testing.T) {
	ctx := context.Background()
	sess := NewMemSession()
	require.NoError(t, sess.Set(ctx, stateManifestKey, "{not json"))

	st := NewStateStore(sess)
	assert.Error(t, st.DeleteAll(ctx))
	_, ok := sess.Snapshot()[stateManifestKey]
	assert.False(t, ok)
	assert.NoError(t, st.DeleteAll(ctx))
}

func TestStateStoreCorruptManifestClearsFlowState(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	sess := NewMemSession()
	st := NewStateStore(sess)
	require.NoError(st.SaveFlowState(ctx, &FlowState{
		Entity:     "https://example.com",
		ServerURLs: map[string]string{"oauth_auth": "https://example.com/oauth"},
		App:        &AppRegistration{ID: "app-post-id"},
		State:      "old-state",
		CreatedAt:  time.Now(),
	}))
	require.NoError(sess.Set(ctx, stateManifestKey, "garbage"))

	assert.Error(st.DeleteAll(ctx))
	assert.Empty(sess.Snapshot())

	fs, err := st.LoadFlowState(ctx)
	require.NoError(err)
	assert.Empty(fs.State)
	assert.Nil(fs.App)
}

func TestFlowStateRoundTrip(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	st := NewStateStore(NewMemSession())
	fs := &FlowState{
		Entity:     "https://example.com",
		ServerURLs: map[string]string{"oauth_auth": "https://example.com/oauth", "oauth_token": "https://example.com/token"},
		App: &AppRegistration{
			ID:         "app-post-id",
			Name:       "Example",
			Scopes:     []string{"read_posts"},
			Credential: &Credential{ID: "cid", Key: "ckey", Algorithm: "sha256"},
		},
		State:     "0123456789abcdef",
		Profile:   &Profile{Name: "Alice"},
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(st.SaveFlowState(ctx, fs))

	loaded, err := st.LoadFlowState(ctx)
	require.NoError(err)
	assert.Equal(fs.Entity, loaded.Entity)
	assert.Equal(fs.ServerURLs, loaded.ServerURLs)
	assert.Equal(fs.App, loaded.App)
	assert.Equal(fs.State, loaded.State)
	assert.Equal(fs.Profile, loaded.Profile)
	assert.True(fs.CreatedAt.Equal(loaded.CreatedAt))

	require.NoError(st.DeleteAll(ctx))
	empty, err := st.LoadFlowState(ctx)
	require.NoError(err)
	assert.Empty(empty.State)
	assert.Nil(empty.App)
}
