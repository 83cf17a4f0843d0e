// Package sessionstore provides [auth.SessionStore] backends for holding Tent auth flow
// state between the redirect and the callback.
//
// [CookieSession] keeps values in the browser's (signed) gorilla session cookie. [MemStore]
// and [RedisStore] keep values server-side, keyed by an opaque session ID which the host
// stores in a cookie; use [RedisStore] when running more than one instance.
package sessionstore
