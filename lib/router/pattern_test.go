package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPattern_NamedCaptures(t *testing.T) {
	p, err := CompilePattern("/:category/:title", PatternOptions{End: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"category", "title"}, p.Names())

	params := p.Params("/programming/how-to-node")
	assert.Equal(t, map[string]string{"category": "programming", "title": "how-to-node"}, params)

	assert.False(t, p.Matches("/programming"))
	assert.False(t, p.Matches("/a/b/c"))
}

func TestPattern_OptionalGroup(t *testing.T) {
	p, err := CompilePattern("/file{.:ext}?", PatternOptions{End: true})
	require.NoError(t, err)

	assert.True(t, p.Matches("/file"))
	assert.True(t, p.Matches("/file.json"))
	assert.Equal(t, map[string]string{"ext": "json"}, p.Params("/file.json"))
	assert.Equal(t, map[string]string{}, p.Params("/file"), "absent optional capture stays unset")
}

func TestPattern_TrailingSlash(t *testing.T) {
	p, err := CompilePattern("/admin", PatternOptions{End: true})
	require.NoError(t, err)
	assert.True(t, p.Matches("/admin"))
	assert.True(t, p.Matches("/admin/"), "non-strict matches both forms")

	strict, err := CompilePattern("/admin", PatternOptions{End: true, Strict: true})
	require.NoError(t, err)
	assert.True(t, strict.Matches("/admin"))
	assert.False(t, strict.Matches("/admin/"))
}

func TestPattern_Sensitivity(t *testing.T) {
	p, err := CompilePattern("/Users", PatternOptions{End: true})
	require.NoError(t, err)
	assert.True(t, p.Matches("/users"))

	cs, err := CompilePattern("/Users", PatternOptions{End: true, Sensitive: true})
	require.NoError(t, err)
	assert.False(t, cs.Matches("/users"))
	assert.True(t, cs.Matches("/Users"))
}

func TestPattern_PrefixMode(t *testing.T) {
	p, err := CompilePattern("/api", PatternOptions{End: false})
	require.NoError(t, err)
	assert.True(t, p.Matches("/api"))
	assert.True(t, p.Matches("/api/users"))
	assert.False(t, p.Matches("/apiary"), "prefix must end at a segment boundary")
}

func TestPattern_DecodedParams(t *testing.T) {
	p, err := CompilePattern("/:name", PatternOptions{End: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "hello world"}, p.Params("/hello%20world"))
}

func TestPattern_Invalid(t *testing.T) {
	_, err := CompilePattern("", PatternOptions{})
	assert.Error(t, err)

	_, err = CompilePattern("/x/:", PatternOptions{})
	assert.Error(t, err, "placeholder without a name")

	_, err = CompilePattern("/x/{unclosed", PatternOptions{})
	assert.Error(t, err)
}
