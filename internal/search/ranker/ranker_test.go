package ranker

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusnext/papersearch/internal/index/segment"
)

// buildSegment writes and reopens a segment from per-document term
// frequency maps; every document gets the UID "doc". Filler terms pad each
// document to the length given in fill.
func buildSegment(t *testing.T, docs []map[string]uint32, fill []uint32) *segment.Segment {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "seg_000001")
	w := segment.NewWriter(4)
	for i, terms := range docs {
		var counts []segment.TermCount
		var docLen uint32
		for term, tf := range terms {
			counts = append(counts, segment.TermCount{Term: term, TF: tf})
			docLen += tf
		}
		if fill != nil && fill[i] > docLen {
			counts = append(counts, segment.TermCount{Term: "filler", TF: fill[i] - docLen})
			docLen = fill[i]
		}
		w.AddDocument(segment.DocRecord{UID: "doc", DocLen: docLen}, counts)
	}
	require.NoError(t, w.Write(dir))

	s, err := segment.Open(dir)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func bm25Score(tf, dl, avgdl float32, n, df uint32) float32 {
	idf := IDF(n, df)
	return idf * tf * (K1 + 1.0) / (tf + K1*(1.0-B+B*(dl/avgdl)))
}

func TestIDF(t *testing.T) {
	// ln((N - df + 0.5)/(df + 0.5) + 1)
	want := float32(math.Log((3.0-2.0+0.5)/(2.0+0.5) + 1.0))
	assert.InDelta(t, want, IDF(3, 2), 1e-6)
	// df == N still yields a positive value thanks to the +1 smoothing.
	assert.Positive(t, IDF(5, 5))
}

// Single term over a single segment with N=3, avgdl=4: the two matching
// documents come back ordered by score, and the score ratio matches the
// closed-form BM25 expression.
func TestRankSingleTermSingleSegment(t *testing.T) {
	s := buildSegment(t, []map[string]uint32{
		{"virus": 2},
		{"other": 1},
		{"virus": 1},
	}, []uint32{4, 4, 4})
	require.Equal(t, uint32(3), s.N)
	require.InDelta(t, 4.0, s.AvgDL, 1e-6)

	res, err := Rank(context.Background(), []*segment.Segment{s}, []WeightedTerm{{Term: "virus", Weight: 1.0}}, 10, 1)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), res.TotalFound)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, uint32(0), res.Hits[0].DocID)
	assert.Equal(t, uint32(2), res.Hits[1].DocID)
	assert.Greater(t, res.Hits[0].Score, res.Hits[1].Score)

	wantRatio := bm25Score(2, 4, 4, 3, 2) / bm25Score(1, 4, 4, 3, 2)
	assert.InDelta(t, wantRatio, res.Hits[0].Score/res.Hits[1].Score, 1e-5)
}

func TestRankUnknownTermContributesNothing(t *testing.T) {
	s := buildSegment(t, []map[string]uint32{{"virus": 1}}, nil)

	res, err := Rank(context.Background(), []*segment.Segment{s},
		[]WeightedTerm{{Term: "unknown", Weight: 1.0}}, 10, 1)
	require.NoError(t, err)
	assert.Zero(t, res.TotalFound)
	assert.Empty(t, res.Hits)
}

func TestRankWeightedTerms(t *testing.T) {
	s := buildSegment(t, []map[string]uint32{{"virus": 1}, {"vaccine": 1}}, []uint32{2, 2})

	full, err := Rank(context.Background(), []*segment.Segment{s},
		[]WeightedTerm{{Term: "virus", Weight: 1.0}}, 10, 1)
	require.NoError(t, err)
	half, err := Rank(context.Background(), []*segment.Segment{s},
		[]WeightedTerm{{Term: "virus", Weight: 0.5}}, 10, 1)
	require.NoError(t, err)

	require.Len(t, full.Hits, 1)
	require.Len(t, half.Hits, 1)
	assert.InDelta(t, full.Hits[0].Score*0.5, half.Hits[0].Score, 1e-6)
}

func TestRankTopKAcrossSegments(t *testing.T) {
	s1 := buildSegment(t, []map[string]uint32{
		{"virus": 5}, {"virus": 1}, {"virus": 3},
	}, nil)
	s2 := buildSegment(t, []map[string]uint32{
		{"virus": 4}, {"virus": 2},
	}, nil)

	res, err := Rank(context.Background(), []*segment.Segment{s1, s2},
		[]WeightedTerm{{Term: "virus", Weight: 1.0}}, 3, 2)
	require.NoError(t, err)

	// A document present in both segments counts once per segment.
	assert.Equal(t, uint64(5), res.TotalFound)
	require.Len(t, res.Hits, 3)
	for i := 1; i < len(res.Hits); i++ {
		assert.GreaterOrEqual(t, res.Hits[i-1].Score, res.Hits[i].Score)
	}
}

func TestRankEmptyInputs(t *testing.T) {
	s := buildSegment(t, []map[string]uint32{{"virus": 1}}, nil)

	res, err := Rank(context.Background(), nil, []WeightedTerm{{Term: "virus", Weight: 1}}, 10, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	res, err = Rank(context.Background(), []*segment.Segment{s}, nil, 10, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)

	res, err = Rank(context.Background(), []*segment.Segment{s}, []WeightedTerm{{Term: "virus", Weight: 1}}, 0, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}
