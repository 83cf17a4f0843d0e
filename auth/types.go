package auth

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	// Provider tag included in every [AuthResult]
	ProviderName = "tent"

	// Media type for Tent post bodies (requests and responses)
	PostMediaType = "application/vnd.tent.post.v0+json"

	// Post type used when registering a client app
	AppPostType = "https://tent.io/types/app/v0#"

	// Link relation pointing from an entity to its meta post
	MetaPostRel = "https://tent.io/rels/meta-post"

	// Link relation pointing from a newly created app post to the issued credentials
	CredentialsRel = "https://tent.io/rels/credentials"

	// Token type requested during the authorization code exchange
	HawkTokenType = "https://tent.io/oauth/hawk-token"
)

// Connection info for a single Tent server. Servers advertise named endpoint URLs; the
// `post` endpoint is a template with `{entity}` and `{post}` placeholders.
type ServerInfo struct {
	Version string `json:"version"`

	// lower value is preferred
	Preference int `json:"preference"`

	URLs map[string]string `json:"urls"`
}

// Returns only the OAuth endpoints (keys prefixed `oauth_`). This is the subset which gets
// persisted across the redirect, to keep session payloads small.
func (s *ServerInfo) OAuthURLs() map[string]string {
	out := make(map[string]string)
	for k, v := range s.URLs {
		if strings.HasPrefix(k, "oauth_") {
			out[k] = v
		}
	}
	return out
}

// Expands the `post` endpoint template for a specific entity and post ID.
func (s *ServerInfo) PostURL(entity, postID string) (string, bool) {
	tmpl, ok := s.URLs["post"]
	if !ok || tmpl == "" {
		return "", false
	}
	u := strings.ReplaceAll(tmpl, "{entity}", url.QueryEscape(entity))
	u = strings.ReplaceAll(u, "{post}", url.QueryEscape(postID))
	return u, true
}

// Basic profile attributes advertised in the meta post. All fields are optional.
type Profile struct {
	Name         string `json:"name,omitempty"`
	Bio          string `json:"bio,omitempty"`
	Website      string `json:"website,omitempty"`
	AvatarDigest string `json:"avatar_digest,omitempty"`
}

// Result of discovery for an entity.
type ServerMetadata struct {
	Entity  string       `json:"entity"`
	Servers []ServerInfo `json:"servers"`
	Profile *Profile     `json:"profile,omitempty"`

	// Raw meta post, as returned by the server
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Returns the most preferred server, or nil if none were discovered.
func (m *ServerMetadata) Primary() *ServerInfo {
	if len(m.Servers) == 0 {
		return nil
	}
	servers := make([]ServerInfo, len(m.Servers))
	copy(servers, m.Servers)
	sort.SliceStable(servers, func(i, j int) bool {
		return servers[i].Preference < servers[j].Preference
	})
	return &servers[0]
}

// MAC-style request signing credentials: identifier, secret key, and algorithm tag. The
// algorithm is treated as opaque and threaded through unchanged.
type Credential struct {
	ID        string `json:"hawk_id"`
	Key       string `json:"hawk_key"`
	Algorithm string `json:"hawk_algorithm"`
}

// Never include the key when formatting for humans or logs.
func (c Credential) String() string {
	return "Credential{ID:" + c.ID + " Algorithm:" + c.Algorithm + "}"
}

func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID),
		slog.String("algorithm", c.Algorithm),
	)
}

// A client application registered with an entity's server.
type AppRegistration struct {
	ID                string      `json:"id"`
	Name              string      `json:"name,omitempty"`
	Description       string      `json:"description,omitempty"`
	URL               string      `json:"url,omitempty"`
	RedirectURI       string      `json:"redirect_uri,omitempty"`
	ReadTypes         []string    `json:"read_types,omitempty"`
	WriteTypes        []string    `json:"write_types,omitempty"`
	NotificationURL   string      `json:"notification_url,omitempty"`
	NotificationTypes []string    `json:"notification_types,omitempty"`
	Scopes            []string    `json:"scopes,omitempty"`
	Credential        *Credential `json:"credentials,omitempty"`

	// Raw app post, as returned by the server at creation time (may be empty)
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Per-flow record persisted in the session between the two phases.
type FlowState struct {
	Entity     string            `json:"entity"`
	ServerURLs map[string]string `json:"server_urls"`
	App        *AppRegistration  `json:"app"`
	State      string            `json:"state"`
	Profile    *Profile          `json:"profile,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type AuthInfo struct {
	Name    string `json:"name,omitempty"`
	Bio     string `json:"bio,omitempty"`
	Website string `json:"website,omitempty"`
	Avatar  string `json:"avatar,omitempty"`
}

type AuthCredentials struct {
	Token     string `json:"token"`
	Secret    string `json:"secret"`
	Algorithm string `json:"algorithm"`
	TokenType string `json:"token_type"`
}

// Raw payloads for consumers which need more than uid and credentials.
type AuthExtra struct {
	Profile          *Profile          `json:"profile,omitempty"`
	App              *AppRegistration  `json:"app"`
	AppAuthorization *TokenResponse    `json:"app_authorization"`
	ServerURLs       map[string]string `json:"server_urls"`
}

// Normalized output of a successful flow.
type AuthResult struct {
	Provider    string          `json:"provider"`
	UID         string          `json:"uid"`
	Info        AuthInfo        `json:"info"`
	Credentials AuthCredentials `json:"credentials"`
	Extra       AuthExtra       `json:"extra"`
}

// Body of the authorization code exchange request.
type TokenRequest struct {
	Code      string `json:"code"`
	TokenType string `json:"token_type"`
}

// Expected response from the server's `oauth_token` endpoint.
type TokenResponse struct {
	AccessToken   string `json:"access_token"`
	HawkKey       string `json:"hawk_key"`
	HawkAlgorithm string `json:"hawk_algorithm"`
	TokenType     string `json:"token_type"`
}

// Query parameters appended to the `oauth_auth` endpoint. Encoded with go-querystring.
type AuthorizeParams struct {
	ClientID         string `url:"client_id"`
	State            string `url:"state"`
	Scope            string `url:"scope,omitempty"`
	ProfileInfoTypes string `url:"tent_profile_info_types,omitempty"`
	PostTypes        string `url:"tent_post_types,omitempty"`
}
