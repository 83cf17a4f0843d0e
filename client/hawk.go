package client

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/tent/tent-go/auth"

	"github.com/hiyosi/hawk"
)

// Inputs to a Hawk request MAC, besides the credential.
type HawkParams struct {
	Method string
	URL    *url.URL

	// Payload and its content type. The payload hash is skipped when Payload is empty.
	ContentType string
	Payload     []byte

	// Unix seconds
	Timestamp int64

	// Random if empty
	Nonce string

	Ext string
	App string
}

func hawkAlg(algorithm string) (hawk.Alg, error) {
	switch strings.ToLower(algorithm) {
	case "sha256", "hmac-sha-256", "":
		return hawk.SHA256, nil
	case "sha1", "hmac-sha-1":
		return hawk.SHA1, nil
	default:
		return 0, fmt.Errorf("unsupported hawk algorithm: %s", algorithm)
	}
}

// Builds the value of an `Authorization: Hawk ...` header.
func HawkHeader(cred *auth.Credential, p *HawkParams) (string, error) {
	if cred.ID == "" || cred.Key == "" {
		return "", fmt.Errorf("hawk credential missing id or key")
	}
	alg, err := hawkAlg(cred.Algorithm)
	if err != nil {
		return "", err
	}
	if p.Nonce == "" {
		nonce, err := randomNonce()
		if err != nil {
			return "", err
		}
		p.Nonce = nonce
	}

	opt := &hawk.Option{
		TimeStamp: p.Timestamp,
		Nonce:     p.Nonce,
		Ext:       p.Ext,
		App:       p.App,
	}
	if len(p.Payload) > 0 {
		opt.Payload = string(p.Payload)
		opt.ContentType = mediaType(p.ContentType)
	}
	c := hawk.NewClient(&hawk.Credential{ID: cred.ID, Key: cred.Key, Alg: alg}, opt)
	hdr, err := c.Header(strings.ToUpper(p.Method), p.URL.String())
	if err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}
	return hdr, nil
}

// Content type parameters are not part of the payload hash.
func mediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
}

func randomNonce() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating hawk nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
