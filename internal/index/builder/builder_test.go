package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusnext/papersearch/internal/index/segment"

	pserrors "github.com/corpusnext/papersearch/pkg/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeCorpus lays out a minimal corpus slice: metadata.csv plus the
// document_parses tree it references.
func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "metadata.csv"),
		"cord_uid,title,pdf_json_files,pmc_json_files\n"+
			"uid1,Viral entry mechanisms,document_parses/pdf_json/uid1.json,\n"+
			"uid2,Cytokine storms,missing.json,document_parses/pmc_json/uid2.json\n"+
			"uid3,Empty paper,document_parses/pdf_json/uid3.json,\n"+
			"uid4,No parse at all,,\n")

	writeFile(t, filepath.Join(dir, "document_parses/pdf_json/uid1.json"),
		`{"title":"Viral entry mechanisms","abstract":[{"text":"The virus binds receptors."}],"body_text":[{"text":"Spike protein mediates viral entry."}]}`)
	writeFile(t, filepath.Join(dir, "document_parses/pmc_json/uid2.json"),
		`{"title":"Cytokine storms","abstract":[],"body_text":[{"text":"Cytokine release follows infection."}]}`)
	// Only stop-words and short tokens: zero indexable content.
	writeFile(t, filepath.Join(dir, "document_parses/pdf_json/uid3.json"),
		`{"title":"the of a","abstract":[],"body_text":[{"text":"to in at"}]}`)
	return dir
}

func TestBuildSlice(t *testing.T) {
	corpus := writeCorpus(t)
	indexDir := t.TempDir()

	b := New(indexDir, 8)
	segName, docs, err := b.BuildSlice(corpus)
	require.NoError(t, err)
	assert.Equal(t, "seg_000001", segName)
	// uid3 has no indexable tokens and uid4 has no parse file.
	assert.Equal(t, 2, docs)

	names, err := segment.LoadManifest(filepath.Join(indexDir, "manifest.bin"))
	require.NoError(t, err)
	assert.Equal(t, []string{"seg_000001"}, names)

	s, err := segment.Open(filepath.Join(indexDir, "segments", segName))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint32(2), s.N)
	assert.Equal(t, "uid1", s.Docs[0].UID)
	assert.Equal(t, "document_parses/pdf_json/uid1.json", s.Docs[0].RelPath)
	assert.Equal(t, "uid2", s.Docs[1].UID)
	// The pmc parse was the fallback for uid2.
	assert.Equal(t, "document_parses/pmc_json/uid2.json", s.Docs[1].RelPath)

	// "virus" occurs in title-less text? It appears in uid1 abstract only.
	require.Contains(t, s.Lex, "virus")
	assert.Equal(t, uint32(1), s.Lex["virus"].DF)
	require.Contains(t, s.Lex, "cytokine")
	assert.Equal(t, uint32(1), s.Lex["cytokine"].DF)

	// No scratch directory left behind.
	entries, err := os.ReadDir(filepath.Join(indexDir, "segments"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "seg_000001", entries[0].Name())
}

func TestBuildSliceAllSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "metadata.csv"),
		"cord_uid,title,pdf_json_files,pmc_json_files\nuid1,gone,missing.json,\n")

	b := New(t.TempDir(), 8)
	_, _, err := b.BuildSlice(dir)
	assert.ErrorIs(t, err, pserrors.ErrNoIndexableTokens)
}

func TestBuildSliceMissingColumns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "metadata.csv"), "cord_uid,title\nuid1,foo\n")

	b := New(t.TempDir(), 8)
	_, _, err := b.BuildSlice(dir)
	assert.ErrorIs(t, err, pserrors.ErrMissingColumn)
}

func TestAddDocument(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "paper.json"),
		`{"title":"alpha beta alpha","abstract":[],"body_text":[]}`)

	indexDir := t.TempDir()
	b := New(indexDir, 8)

	segName, err := b.AddDocument(root, "paper.json", "new-uid", "alpha beta alpha")
	require.NoError(t, err)
	assert.Equal(t, "seg_000001", segName)

	s, err := segment.Open(filepath.Join(indexDir, "segments", segName))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint32(1), s.N)
	assert.InDelta(t, 3.0, s.AvgDL, 1e-6)
	assert.Equal(t, uint32(3), s.Docs[0].DocLen)

	// A one-document segment has single-posting lists with DocId 0.
	for term, e := range s.Lex {
		assert.Equal(t, uint32(1), e.DF, "term %q", term)
		postings, err := s.Postings(e)
		require.NoError(t, err)
		require.Len(t, postings, 1)
		assert.Equal(t, uint32(0), postings[0].DocID)
	}
	alpha, err := s.Postings(s.Lex["alpha"])
	require.NoError(t, err)
	assert.Equal(t, uint32(2), alpha[0].TF)

	// A second add appends seg_000002 to the manifest.
	segName2, err := b.AddDocument(root, "paper.json", "other-uid", "again")
	require.NoError(t, err)
	assert.Equal(t, "seg_000002", segName2)

	names, err := segment.LoadManifest(filepath.Join(indexDir, "manifest.bin"))
	require.NoError(t, err)
	assert.Equal(t, []string{"seg_000001", "seg_000002"}, names)
}

func TestAddDocumentErrors(t *testing.T) {
	root := t.TempDir()
	b := New(t.TempDir(), 8)

	_, err := b.AddDocument(root, "nope.json", "uid", "title")
	assert.ErrorIs(t, err, pserrors.ErrInvalidInput)

	writeFile(t, filepath.Join(root, "empty.json"), `{"title":"of the at","abstract":[],"body_text":[]}`)
	_, err = b.AddDocument(root, "empty.json", "uid", "title")
	assert.ErrorIs(t, err, pserrors.ErrNoIndexableTokens)

	writeFile(t, filepath.Join(root, "bad.json"), `{not json`)
	_, err = b.AddDocument(root, "bad.json", "uid", "title")
	assert.ErrorIs(t, err, pserrors.ErrInvalidInput)
}

func TestPickParsePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), "{}")
	writeFile(t, filepath.Join(dir, "b.json"), "{}")

	// pdf wins when both exist.
	assert.Equal(t, "a.json", pickParsePath(dir, "a.json", "b.json"))
	// First existing value of a multi-valued cell.
	assert.Equal(t, "b.json", pickParsePath(dir, "missing.json; b.json", ""))
	assert.Equal(t, "", pickParsePath(dir, "", ""))
}
