package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tent/tent-go/auth"
	"github.com/tent/tent-go/linkheader"
)

var ErrNoMetaPost = errors.New("entity does not link to a meta post")

// Content of a Tent meta post. Only the parts used for auth are decoded.
type metaContent struct {
	Entity  string            `json:"entity"`
	Profile *auth.Profile     `json:"profile,omitempty"`
	Servers []auth.ServerInfo `json:"servers"`
}

// Resolves an entity to its server metadata: finds the meta post link (from a HEAD, falling back to
// a GET), then fetches and decodes the meta post. The meta post must be for the requested entity.
func (c *Client) DiscoverServerMetadata(ctx context.Context, entity string) (*auth.ServerMetadata, error) {
	metaURL, err := c.findMetaPost(ctx, entity)
	if err != nil {
		return nil, err
	}

	resp, err := c.FetchLinkedResource(ctx, metaURL, nil)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("fetching meta post: HTTP %d", resp.StatusCode)
	}
	post, raw, err := auth.DecodePost(resp.Body)
	if err != nil {
		return nil, err
	}
	var content metaContent
	if err := json.Unmarshal(post.Content, &content); err != nil {
		return nil, fmt.Errorf("decoding meta post content: %w", err)
	}
	if content.Entity == "" {
		content.Entity = post.Entity
	}
	if !auth.SameEntity(content.Entity, entity) {
		return nil, fmt.Errorf("meta post is for %q, not %q", content.Entity, entity)
	}
	c.logger().Debug("fetched meta post", "entity", entity, "url", metaURL, "servers", len(content.Servers))

	return &auth.ServerMetadata{
		Entity:  content.Entity,
		Servers: content.Servers,
		Profile: content.Profile,
		Raw:     raw,
	}, nil
}

func (c *Client) findMetaPost(ctx context.Context, entity string) (string, error) {
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		resp, err := c.SignedRequest(ctx, &auth.ProtocolRequest{Method: method, URL: entity}, nil)
		if err != nil {
			return "", err
		}
		link, ok := linkheader.Parse(resp.Header.Values("Link")...).Find(auth.MetaPostRel)
		if !ok {
			c.logger().Debug("no meta post link", "entity", entity, "method", method, "statusCode", resp.StatusCode)
			continue
		}
		return link.Resolve(entity)
	}
	return "", fmt.Errorf("%w: %s", ErrNoMetaPost, entity)
}
