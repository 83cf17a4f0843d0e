package auth

import (
	"regexp"

	"github.com/PuerkitoBio/purell"
)

var entitySchemeRegex = regexp.MustCompile(`^[a-z]{3,}://`)

// Turns a user-supplied entity string in to a fully qualified URI, adding an `https://`
// scheme if none is present. Does not do any network access, and never fails; rejecting
// empty input is the caller's responsibility.
func NormalizeEntity(raw string) string {
	if entitySchemeRegex.MatchString(raw) {
		return raw
	}
	return "https://" + raw
}

// Compares two entity URIs after URL normalization (case, default ports, trailing slash).
func SameEntity(a, b string) bool {
	return canonicalEntity(a) == canonicalEntity(b)
}

func canonicalEntity(raw string) string {
	clean, err := purell.NormalizeURLString(raw, purell.FlagsSafe|purell.FlagRemoveTrailingSlash|purell.FlagRemoveFragment)
	if err != nil {
		return raw
	}
	return clean
}
