package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tent/tent-go/auth"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tent server for a single entity at /alice.
type fakeTent struct {
	srv      *httptest.Server
	newPosts atomic.Int32
}

func newFakeTent(t *testing.T) *fakeTent {
	ft := &fakeTent{}
	mux := http.NewServeMux()
	mux.HandleFunc("/alice", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", fmt.Sprintf(`</alice/meta>; rel="%s"`, auth.MetaPostRel))
	})
	mux.HandleFunc("/alice/meta", func(w http.ResponseWriter, r *http.Request) {
		base := ft.srv.URL + "/alice"
		writeJSON(w, http.StatusOK, map[string]any{
			"post": map[string]any{
				"id":     "meta",
				"entity": base,
				"type":   "https://tent.io/types/meta/v0#",
				"content": map[string]any{
					"entity":  base,
					"profile": map[string]any{"name": "Alice"},
					"servers": []map[string]any{{
						"version":    "0.3",
						"preference": 0,
						"urls": map[string]string{
							"oauth_auth":  base + "/oauth",
							"oauth_token": base + "/oauth/authorization",
							"new_post":    base + "/posts",
							"post":        base + "/posts/{post}",
						},
					}},
				},
			},
		})
	})
	mux.HandleFunc("/alice/posts", func(w http.ResponseWriter, r *http.Request) {
		ft.newPosts.Add(1)
		var p auth.Post
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		p.ID = "app-post-id"
		w.Header().Set("Link", fmt.Sprintf(`</alice/posts/app-credentials>; rel="%s"`, auth.CredentialsRel))
		writeJSON(w, http.StatusOK, map[string]any{"post": p})
	})
	mux.HandleFunc("/alice/posts/app-credentials", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"post": map[string]any{
				"id":      "app-credentials",
				"type":    "https://tent.io/types/credentials/v0#",
				"content": map[string]string{"hawk_key": "app-key", "hawk_algorithm": "sha256"},
			},
		})
	})
	mux.HandleFunc("/alice/posts/app-post-id", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), `Hawk id="app-credentials"`) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"post": map[string]string{"id": "app-post-id", "type": auth.AppPostType}})
	})
	mux.HandleFunc("/alice/oauth/authorization", func(w http.ResponseWriter, r *http.Request) {
		var req auth.TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code != "the-code" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid code"})
			return
		}
		writeJSON(w, http.StatusOK, auth.TokenResponse{
			AccessToken:   "access-token",
			HawkKey:       "token-key",
			HawkAlgorithm: "sha256",
			TokenType:     auth.HawkTokenType,
		})
	})
	ft.srv = httptest.NewServer(mux)
	t.Cleanup(ft.srv.Close)
	return ft
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func testDemo(t *testing.T, backend string) (*httptest.Server, *fakeTent) {
	ft := newFakeTent(t)
	srv, err := NewServer(Config{
		SessionSecret:  "test-secret",
		SessionBackend: backend,
		DatabaseURL:    "sqlite://:memory:",
		App:            auth.AppAttributes{Name: "Demo"},
		HTTPClient:     ft.srv.Client(),
		Registerer:     prometheus.NewRegistry(),
	}, slog.Default())
	require.NoError(t, err)

	demo := httptest.NewServer(srv)
	t.Cleanup(demo.Close)
	srv.publicURL = demo.URL
	return demo, ft
}

func browser(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// Submits the entity form, returning the authorization redirect.
func startLogin(t *testing.T, b *http.Client, demo *httptest.Server, entity string) *url.URL {
	resp, err := b.PostForm(demo.URL+"/auth/tent", url.Values{"entity": {entity}})
	require.NoError(t, err)
	readBody(t, resp)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc
}

func TestDemoLogin(t *testing.T) {
	for _, backend := range []string{"cookie", "memory"} {
		t.Run(backend, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			demo, ft := testDemo(t, backend)
			entity := ft.srv.URL + "/alice"
			b := browser(t)

			resp, err := b.Get(demo.URL + "/auth/tent")
			require.NoError(err)
			body := readBody(t, resp)
			assert.Equal(http.StatusOK, resp.StatusCode)
			assert.Contains(body, "Entity Verification")
			assert.Contains(body, `name="entity"`)

			loc := startLogin(t, b, demo, entity)
			assert.Equal(ft.srv.URL+"/alice/oauth", loc.Scheme+"://"+loc.Host+loc.Path)
			assert.Equal("app-post-id", loc.Query().Get("client_id"))
			state := loc.Query().Get("state")
			require.NotEmpty(state)

			resp, err = b.Get(demo.URL + "/auth/tent/callback?" + url.Values{"code": {"the-code"}, "state": {state}}.Encode())
			require.NoError(err)
			readBody(t, resp)
			require.Equal(http.StatusFound, resp.StatusCode)
			assert.Equal("/", resp.Header.Get("Location"))

			resp, err = b.Get(demo.URL + "/")
			require.NoError(err)
			body = readBody(t, resp)
			assert.Contains(body, "Alice")
			assert.Contains(body, entity)

			// the same state can't be used twice
			resp, err = b.Get(demo.URL + "/auth/tent/callback?" + url.Values{"code": {"the-code"}, "state": {state}}.Encode())
			require.NoError(err)
			readBody(t, resp)
			assert.Contains(resp.Header.Get("Location"), "code=state_mismatch")

			// a second login reuses the stored app
			loc = startLogin(t, b, demo, entity)
			assert.Equal("app-post-id", loc.Query().Get("client_id"))
			assert.Equal(int32(1), ft.newPosts.Load())

			resp, err = b.Get(demo.URL + "/logout")
			require.NoError(err)
			readBody(t, resp)
			resp, err = b.Get(demo.URL + "/")
			require.NoError(err)
			assert.NotContains(readBody(t, resp), entity)
		})
	}
}

func TestDemoFailures(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	demo, ft := testDemo(t, "cookie")
	b := browser(t)

	startLogin(t, b, demo, ft.srv.URL+"/alice")
	resp, err := b.Get(demo.URL + "/auth/tent/callback?code=the-code&state=not-the-state")
	require.NoError(err)
	readBody(t, resp)
	require.Equal(http.StatusFound, resp.StatusCode)
	failure, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	assert.Equal("/auth/failure", failure.Path)
	assert.Equal("state_mismatch", failure.Query().Get("code"))
	assert.Equal("tent", failure.Query().Get("strategy"))

	resp, err = b.Get(demo.URL + failure.String())
	require.NoError(err)
	body := readBody(t, resp)
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(body, "state_mismatch")

	// unknown entity
	resp, err = b.PostForm(demo.URL+"/auth/tent", url.Values{"entity": {ft.srv.URL + "/nobody"}})
	require.NoError(err)
	readBody(t, resp)
	assert.Contains(resp.Header.Get("Location"), "code=discovery_failure")

	// error returned by the server's authorization page
	startLogin(t, b, demo, ft.srv.URL+"/alice")
	resp, err = b.Get(demo.URL + "/auth/tent/callback?error=access_denied")
	require.NoError(err)
	readBody(t, resp)
	assert.Contains(resp.Header.Get("Location"), "code=oauth_error")
}

func TestHealthCheck(t *testing.T) {
	demo, _ := testDemo(t, "cookie")
	resp, err := http.Get(demo.URL + "/_health")
	require.NoError(t, err)
	var st GenericStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, "ok", st.Status)
}

func TestNewServerConfig(t *testing.T) {
	_, err := NewServer(Config{DatabaseURL: "sqlite://:memory:"}, nil)
	assert.Error(t, err)

	_, err = NewServer(Config{SessionSecret: "s", SessionBackend: "redis", DatabaseURL: "sqlite://:memory:", Registerer: prometheus.NewRegistry()}, nil)
	assert.Error(t, err)
}
