package sessionstore

import (
	"context"
	"net/http"

	"github.com/tent/tent-go/auth"

	"github.com/gorilla/sessions"
)

// Adapts a gorilla session (usually cookie backed) to [auth.SessionStore]. Changes are only
// persisted once the host calls Save; the underlying values map is not safe for concurrent
// use, so use one CookieSession per request.
type CookieSession struct {
	Session *sessions.Session
}

var _ auth.SessionStore = (*CookieSession)(nil)

func NewCookieSession(sess *sessions.Session) *CookieSession {
	return &CookieSession{Session: sess}
}

func (c *CookieSession) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := c.Session.Values[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, nil
	}
	return s, true, nil
}

func (c *CookieSession) Set(ctx context.Context, key, value string) error {
	c.Session.Values[key] = value
	return nil
}

func (c *CookieSession) Delete(ctx context.Context, key string) error {
	delete(c.Session.Values, key)
	return nil
}

func (c *CookieSession) Save(r *http.Request, w http.ResponseWriter) error {
	return c.Session.Save(r, w)
}
