package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Network capabilities the auth flow needs from a Tent protocol client. See the `client`
// package for an HTTP implementation.
//
// Implementations should not retry internally; each method is a single blocking round trip.
type ProtocolClient interface {
	// Resolves an entity URI to server connection metadata
	DiscoverServerMetadata(ctx context.Context, entity string) (*ServerMetadata, error)

	// Sends a request, signed with the given credential. A nil credential sends an unsigned request.
	SignedRequest(ctx context.Context, req *ProtocolRequest, cred *Credential) (*ProtocolResponse, error)

	// Follows a link-relation URL with a GET. The credential is optional.
	FetchLinkedResource(ctx context.Context, url string, cred *Credential) (*ProtocolResponse, error)
}

type ProtocolRequest struct {
	Method string
	URL    string

	// Content type of Body. Required if Body is set.
	ContentType string
	Body        []byte

	// Optional files to send along with Body (as a multipart request)
	Attachments []Attachment
}

// Creates a request with a JSON body.
func NewJSONRequest(method, url, contentType string, body any) (*ProtocolRequest, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &ProtocolRequest{
		Method:      method,
		URL:         url,
		ContentType: contentType,
		Body:        b,
	}, nil
}

type ProtocolResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *ProtocolResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *ProtocolResponse) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

func (r *ProtocolResponse) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("expected JSON response body: %w", err)
	}
	return nil
}

// Host-provided per-browser-session key/value storage. Values are opaque strings.
//
// Implementations must be safe for concurrent use across sessions, and must persist
// values between requests (eg, in a cookie, redis, or a database).
type SessionStore interface {
	// Returns the value and whether it was found
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error

	// Deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}

// Read-only view of the incoming HTTP request, plus access to the browser session.
type RequestContext interface {
	// Whether this request is the entity submission form post
	IsFormPost() bool

	// Query or form parameter value ("" if missing)
	Param(name string) string

	// Absolute callback URL, used as the app redirect target
	CallbackURL() string

	// Renders the entity input form. Only called during the request phase for non-POST requests.
	RenderEntityForm(title string) error

	Session() SessionStore
}

// Lets the host supply a previously persisted app registration for an entity. Returns nil
// (and no error) if there is none.
type GetAppFunc func(ctx context.Context, entity string) (*AppRegistration, error)

// Called after a new app registration has been created, so the host can persist it.
type OnAppCreatedFunc func(ctx context.Context, app *AppRegistration, entity string) error
