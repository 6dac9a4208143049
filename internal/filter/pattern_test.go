package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternStar(t *testing.T) {
	re, err := compile("*.log", false)
	require.NoError(t, err)

	assert.True(t, re.MatchString("app.log"))
	assert.True(t, re.MatchString("dir/app.log"))

	assert.False(t, re.MatchString("app.log.bak"))
	assert.False(t, re.MatchString("app.txt"))
}

func TestPatternStarDoesNotCrossSlash(t *testing.T) {
	re, err := compile("a*b", true)
	require.NoError(t, err)

	assert.True(t, re.MatchString("axxb"))
	assert.False(t, re.MatchString("a/b"))
}

func TestPatternQuestion(t *testing.T) {
	re, err := compile("file?.txt", false)
	require.NoError(t, err)

	assert.True(t, re.MatchString("file1.txt"))
	assert.True(t, re.MatchString("fileA.txt"))
	assert.False(t, re.MatchString("file12.txt"))
	assert.False(t, re.MatchString("file/.txt"))
}

func TestPatternClasses(t *testing.T) {
	re, err := compile("[ab]?.[!c]", true)
	require.NoError(t, err)

	assert.True(t, re.MatchString("ax.d"))
	assert.True(t, re.MatchString("bx.e"))
	assert.False(t, re.MatchString("cx.d"))
	assert.False(t, re.MatchString("ax.c"))
	assert.False(t, re.MatchString("ax./"))
}

func TestPatternUnterminatedClassIsLiteral(t *testing.T) {
	re, err := compile("a[b", true)
	require.NoError(t, err)

	assert.True(t, re.MatchString("a[b"))
	assert.False(t, re.MatchString("ab"))
}

func TestPatternRegexMetaIsLiteral(t *testing.T) {
	re, err := compile("v1.0(final)+", true)
	require.NoError(t, err)

	assert.True(t, re.MatchString("v1.0(final)+"))
	assert.False(t, re.MatchString("v1x0final"))
}

func TestPatternBackslashEscape(t *testing.T) {
	re, err := compile(`\*star`, true)
	require.NoError(t, err)

	assert.True(t, re.MatchString("*star"))
	assert.False(t, re.MatchString("xstar"))
}

func TestPatternDoubleStarPositions(t *testing.T) {
	lead, err := compile("**/x", true)
	require.NoError(t, err)
	assert.True(t, lead.MatchString("x"))
	assert.True(t, lead.MatchString("a/b/x"))

	mid, err := compile("a/**/x", true)
	require.NoError(t, err)
	assert.True(t, mid.MatchString("a/x"))
	assert.True(t, mid.MatchString("a/b/c/x"))
	assert.False(t, mid.MatchString("ax"))

	trail, err := compile("a/**", true)
	require.NoError(t, err)
	assert.True(t, trail.MatchString("a/b"))
	assert.True(t, trail.MatchString("a/b/c"))
	assert.False(t, trail.MatchString("a"))
}
