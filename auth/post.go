package auth

import (
	"encoding/json"
	"fmt"
)

// Generic Tent post. Content is decoded separately, depending on the post type.
type Post struct {
	ID          string           `json:"id,omitempty"`
	Entity      string           `json:"entity,omitempty"`
	Type        string           `json:"type"`
	Content     json.RawMessage  `json:"content,omitempty"`
	Permissions *PostPermissions `json:"permissions,omitempty"`
}

type PostPermissions struct {
	Public bool `json:"public"`
}

type appPostTypes struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

type appPostContent struct {
	Name                  string       `json:"name"`
	Description           string       `json:"description,omitempty"`
	URL                   string       `json:"url,omitempty"`
	RedirectURI           string       `json:"redirect_uri"`
	PostTypes             appPostTypes `json:"post_types"`
	NotificationURL       string       `json:"notification_url,omitempty"`
	NotificationPostTypes []string     `json:"notification_post_types,omitempty"`
	Scopes                []string     `json:"scopes,omitempty"`
}

type credentialsPostContent struct {
	HawkKey       string `json:"hawk_key"`
	HawkAlgorithm string `json:"hawk_algorithm"`
}

// Content type header value for a post of the given type.
func PostContentType(postType string) string {
	return fmt.Sprintf(`%s; type="%s"`, PostMediaType, postType)
}

// Decodes a single post from a response body, with or without a `{"post": ...}` envelope. Also returns
// the raw JSON of the post itself.
func DecodePost(body []byte) (*Post, json.RawMessage, error) {
	var env struct {
		Post json.RawMessage `json:"post"`
	}
	raw := json.RawMessage(body)
	if err := json.Unmarshal(body, &env); err == nil && len(env.Post) > 0 && string(env.Post) != "null" {
		raw = env.Post
	}
	var p Post
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil, fmt.Errorf("decoding post: %w", err)
	}
	return &p, raw, nil
}

func newAppPost(attrs *AppAttributes, redirectURI string) *Post {
	content := appPostContent{
		Name:        attrs.Name,
		Description: attrs.Description,
		URL:         attrs.URL,
		RedirectURI: redirectURI,
		PostTypes: appPostTypes{
			Read:  nonNil(attrs.ReadTypes),
			Write: nonNil(attrs.WriteTypes),
		},
		NotificationURL:       attrs.NotificationURL,
		NotificationPostTypes: attrs.NotificationTypes,
		Scopes:                attrs.Scopes,
	}
	b, _ := json.Marshal(content)
	return &Post{
		Type:        AppPostType,
		Content:     b,
		Permissions: &PostPermissions{Public: false},
	}
}

// Builds a registration from a created app post.
func appFromPost(p *Post, raw json.RawMessage) (*AppRegistration, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("app post has no id")
	}
	app := AppRegistration{
		ID:  p.ID,
		Raw: raw,
	}
	if len(p.Content) > 0 {
		var c appPostContent
		if err := json.Unmarshal(p.Content, &c); err != nil {
			return nil, fmt.Errorf("decoding app post content: %w", err)
		}
		app.Name = c.Name
		app.Description = c.Description
		app.URL = c.URL
		app.RedirectURI = c.RedirectURI
		app.ReadTypes = c.PostTypes.Read
		app.WriteTypes = c.PostTypes.Write
		app.NotificationURL = c.NotificationURL
		app.NotificationTypes = c.NotificationPostTypes
		app.Scopes = c.Scopes
	}
	return &app, nil
}

func credentialFromPost(p *Post) (*Credential, error) {
	var c credentialsPostContent
	if err := json.Unmarshal(p.Content, &c); err != nil {
		return nil, fmt.Errorf("decoding credentials post content: %w", err)
	}
	if p.ID == "" || c.HawkKey == "" {
		return nil, fmt.Errorf("credentials post is missing id or key")
	}
	return &Credential{
		ID:        p.ID,
		Key:       c.HawkKey,
		Algorithm: c.HawkAlgorithm,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
