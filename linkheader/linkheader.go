// Parsing for HTTP `Link` response headers (RFC 8288), as used by Tent servers to point
// at related resources such as meta posts and app credentials.
package linkheader

import (
	"net/url"
	"strings"
)

type Link struct {
	URL string
	Rel string

	// Any other parameters (eg, `type`, `title`), with lower-cased names
	Params map[string]string
}

type Links []Link

// Parses one or more `Link` header values. Malformed entries are skipped. Links with
// multiple space-separated relation types are expanded to one [Link] per relation.
func Parse(headers ...string) Links {
	var out Links
	for _, h := range headers {
		for _, part := range splitOutsideQuotes(h, ',') {
			out = append(out, parseLink(part)...)
		}
	}
	return out
}

func parseLink(raw string) []Link {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "<") {
		return nil
	}
	end := strings.Index(raw, ">")
	if end < 0 {
		return nil
	}
	target := strings.TrimSpace(raw[1:end])
	params := make(map[string]string)
	for _, p := range splitOutsideQuotes(raw[end+1:], ';') {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, val, _ := strings.Cut(p, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		val = strings.Trim(strings.TrimSpace(val), `"`)
		if _, exists := params[name]; exists {
			// first occurrence wins
			continue
		}
		params[name] = val
	}
	rels := strings.Fields(params["rel"])
	delete(params, "rel")
	if len(rels) == 0 {
		return []Link{{URL: target, Params: params}}
	}
	links := make([]Link, 0, len(rels))
	for _, rel := range rels {
		links = append(links, Link{URL: target, Rel: rel, Params: params})
	}
	return links
}

func splitOutsideQuotes(s string, sep rune) []string {
	var parts []string
	var b strings.Builder
	quoted := false
	inTarget := false
	for _, r := range s {
		switch {
		case r == '"' && !inTarget:
			quoted = !quoted
		case r == '<' && !quoted:
			inTarget = true
		case r == '>' && !quoted:
			inTarget = false
		case r == sep && !quoted && !inTarget:
			parts = append(parts, b.String())
			b.Reset()
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}

// Returns the first link with the given relation type. Relation types are compared
// case-insensitively.
func (ls Links) Find(rel string) (*Link, bool) {
	for i := range ls {
		if strings.EqualFold(ls[i].Rel, rel) {
			return &ls[i], true
		}
	}
	return nil, false
}

// Returns a relation type to URL mapping. The first link wins for duplicate relations.
func (ls Links) Map() map[string]string {
	out := make(map[string]string, len(ls))
	for _, l := range ls {
		if l.Rel == "" {
			continue
		}
		if _, ok := out[l.Rel]; !ok {
			out[l.Rel] = l.URL
		}
	}
	return out
}

// Resolves the link target against the URL of the response it was found on.
func (l *Link) Resolve(base string) (string, error) {
	target, err := url.Parse(l.URL)
	if err != nil {
		return "", err
	}
	if target.IsAbs() || base == "" {
		return target.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(target).String(), nil
}
