package semantic

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeVectors writes a 12-dimensional embeddings file. Vectors are chosen
// so cosine similarities are easy to reason about: unit axes and blends.
func writeVectors(t *testing.T, header bool, rows map[string][]float32) string {
	t.Helper()
	var sb strings.Builder
	if header {
		fmt.Fprintf(&sb, "%d %d\n", len(rows), 12)
	}
	for word, v := range rows {
		sb.WriteString(word)
		for _, x := range v {
			fmt.Fprintf(&sb, " %g", x)
		}
		sb.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "embeddings.vec")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func axis(i int) []float32 {
	v := make([]float32, 12)
	v[i] = 1
	return v
}

func blend(i, j int, wi, wj float32) []float32 {
	v := make([]float32, 12)
	v[i], v[j] = wi, wj
	return v
}

func TestLoadFiltersAndNormalises(t *testing.T) {
	path := writeVectors(t, true, map[string][]float32{
		"virus":    axis(0),
		"outbreak": axis(1),
		"ignored":  axis(2),
	})

	needed := map[string]struct{}{"virus": {}, "outbreak": {}}
	ix, err := Load(path, needed)
	require.NoError(t, err)

	assert.True(t, ix.Enabled())
	assert.Equal(t, 2, ix.TermCount())
	assert.Nil(t, ix.vec("ignored"))
	require.NotNil(t, ix.vec("virus"))

	// Stored vectors are unit length.
	v := ix.vec("virus")
	var ss float32
	for _, x := range v {
		ss += x * x
	}
	assert.InDelta(t, 1.0, ss, 1e-5)
}

func TestLoadRejectsMismatchedDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.vec")
	content := "virus 1 0 0 0 0 0 0 0 0 0 0 0\nshort 1 0 0 0 0 0 0 0 0 0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ix, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.TermCount())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.vec"), nil)
	assert.Error(t, err)
}

func TestLoadNoUsableVectors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.vec")
	require.NoError(t, os.WriteFile(path, []byte("word 1 2 3\n"), 0o644)) // < 10 dims
	ix, err := Load(path, nil)
	require.NoError(t, err)
	assert.False(t, ix.Enabled())
}

func TestExpandDisabledIsIdentity(t *testing.T) {
	out := ExpandOrIdentity(nil, []string{"covid", "vaccine"}, DefaultParams())
	require.Len(t, out, 2)
	for _, wt := range out {
		assert.Equal(t, float32(1.0), wt.Weight)
	}
}

func TestExpandNeighbours(t *testing.T) {
	// "coronavirus" is close to "virus" (cos ≈ 0.95); "unrelated" is
	// orthogonal and must never appear.
	path := writeVectors(t, false, map[string][]float32{
		"virus":       axis(0),
		"coronavirus": blend(0, 1, 0.95, 0.3122),
		"unrelated":   axis(5),
	})
	ix, err := Load(path, nil)
	require.NoError(t, err)
	require.True(t, ix.Enabled())

	p := DefaultParams()
	out := ix.Expand([]string{"virus"}, p)

	weights := make(map[string]float32, len(out))
	for _, wt := range out {
		weights[wt.Term] = wt.Weight
	}

	// The original term keeps weight 1 and sorts first.
	assert.Equal(t, float32(1.0), weights["virus"])
	assert.Equal(t, "virus", out[0].Term)

	// The neighbour is weighted at most α and proportional to similarity.
	w, ok := weights["coronavirus"]
	require.True(t, ok)
	assert.Greater(t, w, float32(0))
	assert.LessOrEqual(t, w, p.Alpha)

	_, ok = weights["unrelated"]
	assert.False(t, ok)
}

func TestExpandTruncatesToMaxTerms(t *testing.T) {
	rows := map[string][]float32{"query": axis(0)}
	for i := 0; i < 10; i++ {
		rows[fmt.Sprintf("near%02d", i)] = blend(0, 1, 0.9, 0.4359)
	}
	path := writeVectors(t, false, rows)
	ix, err := Load(path, nil)
	require.NoError(t, err)

	p := DefaultParams()
	p.PerTerm = 10
	p.GlobalTopK = 10
	p.MaxTotalTerms = 4
	out := ix.Expand([]string{"query"}, p)
	assert.Len(t, out, 4)
	assert.Equal(t, "query", out[0].Term)
}

func TestLooksLikeHeader(t *testing.T) {
	assert.True(t, looksLikeHeader("400000 300"))
	assert.False(t, looksLikeHeader("word 0.1 0.2"))
	assert.False(t, looksLikeHeader("1 2 3"))
}
