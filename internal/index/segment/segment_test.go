package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusnext/papersearch/internal/index/codec"
)

func TestName(t *testing.T) {
	assert.Equal(t, "seg_000001", Name(1))
	assert.Equal(t, "seg_000042", Name(42))
	assert.Equal(t, "seg_123456", Name(123456))
}

func TestBarrelForTerm(t *testing.T) {
	p := BarrelParams{BarrelCount: 4, TermsPerBarrel: 10}
	assert.Equal(t, uint32(0), BarrelForTerm(0, p))
	assert.Equal(t, uint32(0), BarrelForTerm(9, p))
	assert.Equal(t, uint32(1), BarrelForTerm(10, p))
	// Overflow ids land in the last barrel.
	assert.Equal(t, uint32(3), BarrelForTerm(999, p))
	// Degenerate params route everything to barrel 0.
	assert.Equal(t, uint32(0), BarrelForTerm(7, BarrelParams{}))
}

func TestBarrelParamsFor(t *testing.T) {
	p := barrelParamsFor(64, 130)
	assert.Equal(t, uint32(64), p.BarrelCount)
	assert.Equal(t, uint32(3), p.TermsPerBarrel)

	// An empty vocabulary still gets a positive divisor.
	p = barrelParamsFor(64, 0)
	assert.Equal(t, uint32(1), p.TermsPerBarrel)
}

func writeTestSegment(t *testing.T, barrelCount uint32) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "seg_000001")
	w := NewWriter(barrelCount)
	w.AddDocument(DocRecord{UID: "doc0", Title: "first", RelPath: "p/0.json", DocLen: 4}, []TermCount{
		{Term: "virus", TF: 2},
		{Term: "spike", TF: 1},
		{Term: "protein", TF: 1},
	})
	w.AddDocument(DocRecord{UID: "doc1", Title: "second", RelPath: "p/1.json", DocLen: 2}, []TermCount{
		{Term: "spike", TF: 2},
	})
	w.AddDocument(DocRecord{UID: "doc2", Title: "third", RelPath: "p/2.json", DocLen: 3}, []TermCount{
		{Term: "virus", TF: 1},
		{Term: "genome", TF: 2},
	})
	require.NoError(t, w.Write(dir))
	return dir
}

func TestWriterLoaderRoundTrip(t *testing.T) {
	dir := writeTestSegment(t, 4)

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint32(3), s.N)
	assert.InDelta(t, 3.0, s.AvgDL, 1e-6)
	require.Len(t, s.Docs, 3)
	assert.Equal(t, "doc0", s.Docs[0].UID)
	assert.Equal(t, uint32(4), s.Docs[0].DocLen)
	assert.Equal(t, "p/2.json", s.Docs[2].RelPath)

	// Term ids follow first-seen order across documents.
	require.Contains(t, s.Lex, "virus")
	require.Contains(t, s.Lex, "spike")
	require.Contains(t, s.Lex, "genome")
	assert.Equal(t, uint32(0), s.Lex["virus"].TermID)
	assert.Equal(t, uint32(1), s.Lex["spike"].TermID)
	assert.Equal(t, uint32(3), s.Lex["genome"].TermID)

	virus := s.Lex["virus"]
	assert.Equal(t, uint32(2), virus.DF)
	assert.Equal(t, virus.DF, virus.Count)

	postings, err := s.Postings(virus)
	require.NoError(t, err)
	assert.Equal(t, []Posting{{DocID: 0, TF: 2}, {DocID: 2, TF: 1}}, postings)

	spike, err := s.Postings(s.Lex["spike"])
	require.NoError(t, err)
	assert.Equal(t, []Posting{{DocID: 0, TF: 1}, {DocID: 1, TF: 2}}, spike)
}

// Every lexicon entry must route to the barrel derived from its term id,
// and reading Count postings at Offset must yield strictly ascending doc
// ids with positive frequencies.
func TestLexiconConsistency(t *testing.T) {
	dir := writeTestSegment(t, 2)

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	for term, e := range s.Lex {
		assert.Positive(t, e.DF, "term %q", term)
		assert.Equal(t, e.DF, e.Count, "term %q", term)
		assert.Equal(t, BarrelForTerm(e.TermID, s.Params()), e.Barrel, "term %q", term)

		postings, err := s.Postings(e)
		require.NoError(t, err, "term %q", term)
		require.Len(t, postings, int(e.Count))
		for i, p := range postings {
			assert.Positive(t, p.TF, "term %q posting %d", term, i)
			if i > 0 {
				assert.Greater(t, p.DocID, postings[i-1].DocID, "term %q", term)
			}
		}
	}
}

// The forward index and the inverted barrels describe the same matrix.
func TestForwardInvertedDuality(t *testing.T) {
	dir := writeTestSegment(t, 4)

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	// Read forward.bin and terms.bin directly.
	tf, err := os.Open(filepath.Join(dir, "terms.bin"))
	require.NoError(t, err)
	defer tf.Close()
	termCount, err := codec.ReadU32(tf)
	require.NoError(t, err)
	idToTerm := make([]string, termCount)
	for i := range idToTerm {
		idToTerm[i], err = codec.ReadString(tf)
		require.NoError(t, err)
	}

	ff, err := os.Open(filepath.Join(dir, "forward.bin"))
	require.NoError(t, err)
	defer ff.Close()
	docCount, err := codec.ReadU32(ff)
	require.NoError(t, err)
	require.Equal(t, s.N, docCount)

	for docID := uint32(0); docID < docCount; docID++ {
		entryCount, err := codec.ReadU32(ff)
		require.NoError(t, err)
		var docLenSum uint32
		prevTID := int64(-1)
		for j := uint32(0); j < entryCount; j++ {
			tid, err := codec.ReadU32(ff)
			require.NoError(t, err)
			tfv, err := codec.ReadU32(ff)
			require.NoError(t, err)

			assert.Greater(t, int64(tid), prevTID, "forward entry sorted by term id")
			prevTID = int64(tid)
			docLenSum += tfv

			// The inverted list for this term holds the same (doc, tf).
			require.Less(t, int(tid), len(idToTerm))
			postings, err := s.Postings(s.Lex[idToTerm[tid]])
			require.NoError(t, err)
			found := false
			for _, p := range postings {
				if p.DocID == docID {
					assert.Equal(t, tfv, p.TF)
					found = true
				}
			}
			assert.True(t, found, "doc %d term %s", docID, idToTerm[tid])
		}
		assert.Equal(t, s.Docs[docID].DocLen, docLenSum, "doc_len equals forward tf sum")
	}
}

func TestOpenMissingMandatoryFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir)
	assert.Error(t, err)

	// stats.bin alone is not enough.
	f, err := os.Create(filepath.Join(dir, "stats.bin"))
	require.NoError(t, err)
	require.NoError(t, codec.WriteU32(f, 0))
	require.NoError(t, codec.WriteF32(f, 0))
	f.Close()
	_, err = Open(dir)
	assert.Error(t, err)
}

func TestLegacyLayoutFallback(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seg_000001")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	write := func(name string, fn func(f *os.File)) {
		f, err := os.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		fn(f)
		require.NoError(t, f.Close())
	}

	write("stats.bin", func(f *os.File) {
		codec.WriteU32(f, 1)
		codec.WriteF32(f, 2)
	})
	write("docs.bin", func(f *os.File) {
		codec.WriteU32(f, 1)
		codec.WriteString(f, "legacy0")
		codec.WriteString(f, "old title")
		codec.WriteString(f, "p/legacy.json")
		codec.WriteU32(f, 2)
	})
	write("lexicon.bin", func(f *os.File) {
		codec.WriteU32(f, 1)
		codec.WriteString(f, "virus")
		codec.WriteU32(f, 0) // termId
		codec.WriteU32(f, 1) // df
		codec.WriteU64(f, 0) // offset
		codec.WriteU32(f, 1) // count
	})
	write("inverted.bin", func(f *os.File) {
		codec.WriteU32(f, 0) // docId
		codec.WriteU32(f, 2) // tf
	})

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint32(1), s.N)
	postings, err := s.Postings(s.Lex["virus"])
	require.NoError(t, err)
	assert.Equal(t, []Posting{{DocID: 0, TF: 2}}, postings)
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.bin")

	names, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Empty(t, names)

	want := []string{"seg_000001", "seg_000002"}
	require.NoError(t, SaveManifest(path, want))
	names, err = LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, want, names)
}

func TestScanSegmentDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "seg_000002"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "seg_000001"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "other"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "seg_000003"), nil, 0o644))

	names, err := ScanSegmentDirs(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"seg_000001", "seg_000002"}, names)

	names, err = ScanSegmentDirs(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, names)
}
