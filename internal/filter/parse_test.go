package filter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIgnoreFile(t *testing.T) {
	content := "# build outputs\n" +
		"*.o\n" +
		"/bin/\n" +
		"\n" +
		"!keep.o\n" +
		"\\#literal\n" +
		"trailing   \n" +
		"escaped\\ \n"
	rules, err := ParseIgnoreFile(strings.NewReader(content), nil)
	require.NoError(t, err)
	require.Len(t, rules, 6)

	assert.Equal(t, "*.o", rules[0].Pattern)
	assert.True(t, rules[1].Anchored)
	assert.True(t, rules[1].DirOnly)
	assert.True(t, rules[2].Negated)
	assert.Equal(t, "#literal", rules[3].Pattern)
	assert.Equal(t, "trailing", rules[4].Pattern)
	assert.Equal(t, `escaped\ `, rules[5].Pattern)

	assert.Equal(t, Excluded, Matches(path("src/a.o"), false, rules))
	assert.Equal(t, Included, Matches(path("src/keep.o"), false, rules))
	assert.Equal(t, Excluded, Matches(path("bin"), true, rules))
	assert.Equal(t, Included, Matches(path("src/bin"), true, rules))
	assert.Equal(t, Excluded, Matches(path("escaped "), false, rules))
}

func TestParseIgnoreFileWithBase(t *testing.T) {
	rules, err := ParseIgnoreFile(strings.NewReader("*.tmp\n"), []string{"proj"})
	require.NoError(t, err)
	require.Len(t, rules, 1)

	assert.Equal(t, []string{"proj"}, rules[0].Base)
	assert.Equal(t, Excluded, Matches(path("proj/x.tmp"), false, rules))
	assert.Equal(t, Included, Matches(path("other/x.tmp"), false, rules))
}

func TestParseIgnoreFileEmpty(t *testing.T) {
	rules, err := ParseIgnoreFile(strings.NewReader("# only comments\n\n"), nil)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestParseIgnoreFileCRLF(t *testing.T) {
	rules, err := ParseIgnoreFile(strings.NewReader("*.log\r\n!a.log\r\n"), nil)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "a.log", rules[1].Pattern)
}

func TestParseIgnoreFileReportsLine(t *testing.T) {
	_, err := ParseIgnoreFile(strings.NewReader("ok\n!\n"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyPattern)
	assert.Contains(t, err.Error(), "line 2")
}
