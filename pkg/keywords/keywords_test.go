package keywords

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	assert.Equal(t, KindUnreserved, Lookup("database"))
	assert.Equal(t, KindPartialReserved, Lookup("union"))
	assert.Equal(t, KindFutureReserved, Lookup("window"))
	assert.Equal(t, KindReserved, Lookup("select"))
	assert.Equal(t, KindNone, Lookup("not_a_keyword"))
}

func TestLookupIsCaseSensitive(t *testing.T) {
	assert.Equal(t, KindReserved, Lookup("select"))
	assert.Equal(t, KindNone, Lookup("SELECT"))
}

func TestIsKeyword(t *testing.T) {
	assert.True(t, IsKeyword("commit"))
	assert.True(t, IsKeyword("except"))
	assert.False(t, IsKeyword(""))
	assert.False(t, IsKeyword("foo"))
}

func TestTablesHaveNoOverlap(t *testing.T) {
	seen := make(map[string]Kind)
	for _, set := range []struct {
		kind  Kind
		words []string
	}{
		{KindUnreserved, Unreserved},
		{KindPartialReserved, PartialReserved},
		{KindFutureReserved, FutureReserved},
		{KindReserved, Reserved},
	} {
		for _, w := range set.words {
			if prev, ok := seen[w]; ok {
				t.Fatalf("keyword %q listed as both %s and %s", w, prev, set.kind)
			}
			seen[w] = set.kind
		}
	}
}
