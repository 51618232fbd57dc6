// Package segment defines the on-disk layout of immutable index segments:
// file naming, the barrel partitioning of the term space, the segment
// writer, and the loader that opens segments for query-time reads.
//
// A segment directory seg_NNNNNN holds:
//
//	stats.bin      u32 N, f32 avgdl
//	docs.bin       u32 N, then N × {uid, title, relpath, doc_len}
//	terms.bin      u32 |V|, then |V| × term string
//	forward.bin    u32 N, then N × {u32 count, count × (termId, tf)}
//	barrels.bin    u32 barrel_count, u32 terms_per_barrel
//	inverted_bDDD.bin  concatenated posting lists, one file per barrel
//	lexicon_bDDD.bin   u32 entry_count, then {term, termId, df, offset, count}
package segment

import (
	"fmt"
	"path/filepath"
)

// DefaultBarrelCount is the build-time default number of barrels per
// segment. It is a configuration default, not a format constant: readers
// always take the count from barrels.bin.
const DefaultBarrelCount uint32 = 64

// Posting is one (document, term-frequency) pair in an inverted list.
type Posting struct {
	DocID uint32
	TF    uint32
}

// TermCount pairs a term string with its frequency inside one document,
// ordered by first appearance in the document text.
type TermCount struct {
	Term string
	TF   uint32
}

// TermTF is one (termId, tf) pair in a forward-index entry.
type TermTF struct {
	TermID uint32
	TF     uint32
}

// DocRecord is one row of the docs table.
type DocRecord struct {
	UID     string
	Title   string
	RelPath string
	DocLen  uint32
}

// LexEntry locates one term's posting list inside its barrel.
type LexEntry struct {
	TermID uint32
	DF     uint32
	Offset uint64
	Count  uint32
	Barrel uint32
}

// BarrelParams is the per-segment barrel configuration stored in
// barrels.bin.
type BarrelParams struct {
	BarrelCount    uint32
	TermsPerBarrel uint32
}

// barrelParamsFor derives the routing parameters for a vocabulary of size
// termCount partitioned into barrelCount barrels.
func barrelParamsFor(barrelCount, termCount uint32) BarrelParams {
	p := BarrelParams{BarrelCount: barrelCount}
	p.TermsPerBarrel = (termCount + barrelCount - 1) / barrelCount
	if p.TermsPerBarrel == 0 {
		p.TermsPerBarrel = 1
	}
	return p
}

// BarrelForTerm maps a term id to its barrel, with the last barrel
// absorbing overflow.
func BarrelForTerm(termID uint32, p BarrelParams) uint32 {
	if p.TermsPerBarrel == 0 {
		return 0
	}
	b := termID / p.TermsPerBarrel
	if b >= p.BarrelCount {
		b = p.BarrelCount - 1
	}
	return b
}

// Name returns the canonical directory name for the 1-based segment id,
// e.g. seg_000001.
func Name(id uint32) string {
	return fmt.Sprintf("seg_%06d", id)
}

func statsPath(segDir string) string   { return filepath.Join(segDir, "stats.bin") }
func docsPath(segDir string) string    { return filepath.Join(segDir, "docs.bin") }
func termsPath(segDir string) string   { return filepath.Join(segDir, "terms.bin") }
func forwardPath(segDir string) string { return filepath.Join(segDir, "forward.bin") }
func barrelsPath(segDir string) string { return filepath.Join(segDir, "barrels.bin") }

func invBarrelPath(segDir string, barrel uint32) string {
	return filepath.Join(segDir, fmt.Sprintf("inverted_b%03d.bin", barrel))
}

func lexBarrelPath(segDir string, barrel uint32) string {
	return filepath.Join(segDir, fmt.Sprintf("lexicon_b%03d.bin", barrel))
}

func legacyInvPath(segDir string) string { return filepath.Join(segDir, "inverted.bin") }
func legacyLexPath(segDir string) string { return filepath.Join(segDir, "lexicon.bin") }
