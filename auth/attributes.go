package auth

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// Descriptive attributes submitted when registering a new app with an entity's server.
type AppAttributes struct {
	Name        string
	Description string
	URL         string

	// Overrides the request callback URL as the app redirect target, if set
	RedirectURI string

	ReadTypes         []string
	WriteTypes        []string
	NotificationURL   string
	NotificationTypes []string
	Scopes            []string

	// Optional app icon, uploaded as an attachment on the app post
	Icon *Icon
}

// A file sent along with a post.
type Attachment struct {
	// Form field / attachment category. Defaults to "icon" for app icons.
	Category    string
	Name        string
	ContentType string
	Data        []byte
}

// App icon, in one of three shapes: raw bytes (Data), a file on disk (Path), or a fully
// specified attachment (Attachment). Content type is detected from the bytes, not from
// any file extension.
type Icon struct {
	Data       []byte
	Path       string
	Attachment *Attachment
}

// Resolves the icon to a fully specified attachment.
func (i *Icon) Resolve() (*Attachment, error) {
	switch {
	case i.Attachment != nil:
		att := *i.Attachment
		if len(att.Data) == 0 {
			return nil, fmt.Errorf("icon attachment has no data")
		}
		if att.Category == "" {
			att.Category = "icon"
		}
		if att.Name == "" {
			att.Name = "icon"
		}
		if att.ContentType == "" {
			att.ContentType = mimetype.Detect(att.Data).String()
		}
		return &att, nil
	case len(i.Data) > 0:
		mt := mimetype.Detect(i.Data)
		return &Attachment{
			Category:    "icon",
			Name:        "icon" + mt.Extension(),
			ContentType: mt.String(),
			Data:        i.Data,
		}, nil
	case i.Path != "":
		b, err := os.ReadFile(i.Path)
		if err != nil {
			return nil, fmt.Errorf("reading icon file: %w", err)
		}
		return &Attachment{
			Category:    "icon",
			Name:        filepath.Base(i.Path),
			ContentType: mimetype.Detect(b).String(),
			Data:        b,
		}, nil
	default:
		return nil, fmt.Errorf("empty icon")
	}
}
