package suggest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestRanking(t *testing.T) {
	trie := Build(map[string]uint32{
		"covid":       12521,
		"coronavirus": 8234,
		"corona":      100,
	}, MaxPerPrefix)

	assert.Equal(t, []string{"covid"}, trie.Suggest("cov", 5))
	assert.Equal(t, []string{"coronavirus", "corona"}, trie.Suggest("cor", 5))
	// Ties resolve lexicographically ascending.
	tied := Build(map[string]uint32{"beta": 7, "betterment": 7}, MaxPerPrefix)
	assert.Equal(t, []string{"beta", "betterment"}, tied.Suggest("bet", 5))
}

func TestSuggestBasePrefixEcho(t *testing.T) {
	trie := Build(map[string]uint32{"vaccine": 10, "variant": 5}, MaxPerPrefix)

	got := trie.Suggest("mrna va", 5)
	assert.Equal(t, []string{"mrna vaccine", "mrna variant"}, got)

	// Trailing separators attach the completion to the preceding token.
	got = trie.Suggest("delta va!", 5)
	assert.Equal(t, []string{"delta vaccine", "delta variant"}, got)
}

func TestSuggestLimit(t *testing.T) {
	scores := map[string]uint32{}
	words := []string{"car", "care", "cargo", "carbon", "carrier", "cart"}
	for i, w := range words {
		scores[w] = uint32(100 - i)
	}
	trie := Build(scores, MaxPerPrefix)

	assert.Len(t, trie.Suggest("car", 3), 3)
	assert.Len(t, trie.Suggest("car", 100), len(words))
	assert.Empty(t, trie.Suggest("car", 0))
}

func TestSuggestMisses(t *testing.T) {
	trie := Build(map[string]uint32{"virus": 3}, MaxPerPrefix)

	assert.Empty(t, trie.Suggest("zz", 5))
	assert.Empty(t, trie.Suggest("", 5))
	assert.Empty(t, trie.Suggest("!!!", 5))

	var empty *Trie
	assert.True(t, empty.Empty())
	assert.Empty(t, empty.Suggest("vi", 5))
}

func TestBuildNormalisesAndFilters(t *testing.T) {
	trie := Build(map[string]uint32{
		"COVID-19": 50,
		"a":        99, // too short after normalisation
		"x!":       99,
	}, MaxPerPrefix)

	assert.Equal(t, []string{"covid19"}, trie.Suggest("covid", 5))
	assert.Empty(t, trie.Suggest("a", 5))
}

// Building twice from the same map yields identical ordered suggestion
// lists for every prefix.
func TestBuildIdempotent(t *testing.T) {
	scores := map[string]uint32{
		"spike": 40, "spread": 40, "specimen": 12, "species": 12, "spine": 3,
	}
	a := Build(scores, MaxPerPrefix)
	b := Build(scores, MaxPerPrefix)

	for _, prefix := range []string{"sp", "spi", "spe", "spr", "s"} {
		require.Equal(t, a.Suggest(prefix, 10), b.Suggest(prefix, 10), "prefix %q", prefix)
	}
}

func TestTopListBound(t *testing.T) {
	scores := map[string]uint32{}
	for i := 0; i < 26; i++ {
		scores[fmt.Sprintf("pan%cdemic", 'a'+i)] = uint32(i)
	}
	trie := Build(scores, 5)
	got := trie.Suggest("pan", 100)
	assert.LessOrEqual(t, len(got), 5)
}
