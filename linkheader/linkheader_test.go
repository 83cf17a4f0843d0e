package linkheader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	assert := assert.New(t)

	links := Parse(`<https://example.com/posts/meta>; rel="https://tent.io/rels/meta-post"`)
	require.Len(t, links, 1)
	assert.Equal("https://example.com/posts/meta", links[0].URL)
	assert.Equal("https://tent.io/rels/meta-post", links[0].Rel)

	// multiple links in one header, with commas and semicolons inside the target and quotes
	links = Parse(`<https://a.example.com/x;y,z>; rel="next"; title="one, two; three", </relative>; rel=prev`)
	require.Len(t, links, 2)
	assert.Equal("https://a.example.com/x;y,z", links[0].URL)
	assert.Equal("next", links[0].Rel)
	assert.Equal("one, two; three", links[0].Params["title"])
	assert.Equal("/relative", links[1].URL)
	assert.Equal("prev", links[1].Rel)

	// multiple header values
	links = Parse(`<https://example.com/1>; rel="a"`, `<https://example.com/2>; rel="b"`)
	assert.Equal(map[string]string{
		"a": "https://example.com/1",
		"b": "https://example.com/2",
	}, links.Map())

	// multiple relation types
	links = Parse(`<https://example.com/both>; rel="alternate canonical"`)
	require.Len(t, links, 2)
	assert.Equal("alternate", links[0].Rel)
	assert.Equal("canonical", links[1].Rel)

	// junk is skipped
	assert.Empty(Parse(""))
	assert.Empty(Parse("garbage"))
	assert.Empty(Parse("<unterminated; rel=x"))
}

func TestFindAndResolve(t *testing.T) {
	assert := assert.New(t)

	links := Parse(`</posts/app/credentials>; rel="https://tent.io/rels/credentials"`)
	l, ok := links.Find("HTTPS://TENT.IO/rels/credentials")
	assert.True(ok)

	u, err := l.Resolve("https://tent.example.com/tent/posts")
	assert.NoError(err)
	assert.Equal("https://tent.example.com/posts/app/credentials", u)

	_, ok = links.Find("https://tent.io/rels/meta-post")
	assert.False(ok)

	abs := Link{URL: "https://other.example.com/x"}
	u, err = abs.Resolve("https://tent.example.com/")
	assert.NoError(err)
	assert.Equal("https://other.example.com/x", u)
}
