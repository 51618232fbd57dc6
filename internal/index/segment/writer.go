package segment

import (
	"fmt"
	"os"
	"sort"

	"github.com/corpusnext/papersearch/internal/index/codec"
)

// Writer accumulates documents in memory and materialises one immutable
// segment. Term ids are assigned monotonically in first-seen order, so the
// vocabulary is private to the segment being written.
type Writer struct {
	termToID map[string]uint32
	idToTerm []string

	// forward[docId] holds (termId, tf) pairs sorted ascending by termId.
	forward [][]TermTF

	// inverted[termId] accumulates postings in document insertion order.
	inverted [][]Posting

	docs     []DocRecord
	totalLen uint64

	barrelCount uint32
}

// NewWriter creates a Writer partitioning terms into barrelCount barrels.
// A zero barrelCount falls back to DefaultBarrelCount.
func NewWriter(barrelCount uint32) *Writer {
	if barrelCount == 0 {
		barrelCount = DefaultBarrelCount
	}
	return &Writer{
		termToID:    make(map[string]uint32),
		barrelCount: barrelCount,
	}
}

// DocCount returns the number of documents added so far.
func (w *Writer) DocCount() int {
	return len(w.docs)
}

func (w *Writer) internTerm(term string) uint32 {
	if id, ok := w.termToID[term]; ok {
		return id
	}
	id := uint32(len(w.idToTerm))
	w.termToID[term] = id
	w.idToTerm = append(w.idToTerm, term)
	w.inverted = append(w.inverted, nil)
	return id
}

// AddDocument appends one document. termFreqs must list each distinct term
// exactly once, in first-appearance order, with a positive tf; meta.DocLen
// must equal the sum of the frequencies.
func (w *Writer) AddDocument(meta DocRecord, termFreqs []TermCount) {
	docID := uint32(len(w.docs))
	w.docs = append(w.docs, meta)
	w.totalLen += uint64(meta.DocLen)

	fwd := make([]TermTF, 0, len(termFreqs))
	for _, tc := range termFreqs {
		tid := w.internTerm(tc.Term)
		fwd = append(fwd, TermTF{TermID: tid, TF: tc.TF})
		w.inverted[tid] = append(w.inverted[tid], Posting{DocID: docID, TF: tc.TF})
	}
	sort.Slice(fwd, func(i, j int) bool { return fwd[i].TermID < fwd[j].TermID })
	w.forward = append(w.forward, fwd)
}

// Write materialises the segment into segDir, creating it if necessary.
// Files are written in the order docs, stats, forward, terms, then the
// barrelised lexicon and postings. The caller is responsible for writing
// into a scratch directory and renaming, so a failure here never leaves a
// partial segment visible.
func (w *Writer) Write(segDir string) error {
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}

	if err := w.writeDocs(segDir); err != nil {
		return err
	}
	if err := w.writeStats(segDir); err != nil {
		return err
	}
	if err := w.writeForward(segDir); err != nil {
		return err
	}
	if err := w.writeTerms(segDir); err != nil {
		return err
	}
	return w.writeBarrels(segDir)
}

func (w *Writer) writeDocs(segDir string) error {
	f, err := os.Create(docsPath(segDir))
	if err != nil {
		return fmt.Errorf("creating docs.bin: %w", err)
	}
	defer f.Close()

	if err := codec.WriteU32(f, uint32(len(w.docs))); err != nil {
		return fmt.Errorf("writing docs count: %w", err)
	}
	for _, d := range w.docs {
		if err := codec.WriteString(f, d.UID); err != nil {
			return fmt.Errorf("writing doc uid: %w", err)
		}
		if err := codec.WriteString(f, d.Title); err != nil {
			return fmt.Errorf("writing doc title: %w", err)
		}
		if err := codec.WriteString(f, d.RelPath); err != nil {
			return fmt.Errorf("writing doc relpath: %w", err)
		}
		if err := codec.WriteU32(f, d.DocLen); err != nil {
			return fmt.Errorf("writing doc length: %w", err)
		}
	}
	return nil
}

func (w *Writer) writeStats(segDir string) error {
	f, err := os.Create(statsPath(segDir))
	if err != nil {
		return fmt.Errorf("creating stats.bin: %w", err)
	}
	defer f.Close()

	var avgdl float32
	if len(w.docs) > 0 {
		avgdl = float32(w.totalLen) / float32(len(w.docs))
	}
	if err := codec.WriteU32(f, uint32(len(w.docs))); err != nil {
		return fmt.Errorf("writing doc count: %w", err)
	}
	if err := codec.WriteF32(f, avgdl); err != nil {
		return fmt.Errorf("writing avgdl: %w", err)
	}
	return nil
}

func (w *Writer) writeForward(segDir string) error {
	f, err := os.Create(forwardPath(segDir))
	if err != nil {
		return fmt.Errorf("creating forward.bin: %w", err)
	}
	defer f.Close()

	if err := codec.WriteU32(f, uint32(len(w.forward))); err != nil {
		return fmt.Errorf("writing forward count: %w", err)
	}
	for _, entry := range w.forward {
		if err := codec.WriteU32(f, uint32(len(entry))); err != nil {
			return fmt.Errorf("writing forward entry count: %w", err)
		}
		for _, p := range entry {
			if err := codec.WriteU32(f, p.TermID); err != nil {
				return fmt.Errorf("writing forward term id: %w", err)
			}
			if err := codec.WriteU32(f, p.TF); err != nil {
				return fmt.Errorf("writing forward tf: %w", err)
			}
		}
	}
	return nil
}

func (w *Writer) writeTerms(segDir string) error {
	f, err := os.Create(termsPath(segDir))
	if err != nil {
		return fmt.Errorf("creating terms.bin: %w", err)
	}
	defer f.Close()

	if err := codec.WriteU32(f, uint32(len(w.idToTerm))); err != nil {
		return fmt.Errorf("writing term count: %w", err)
	}
	for _, t := range w.idToTerm {
		if err := codec.WriteString(f, t); err != nil {
			return fmt.Errorf("writing term %q: %w", t, err)
		}
	}
	return nil
}

// writeBarrels streams each term's sorted posting list into the barrel file
// selected by BarrelForTerm, writing the matching lexicon entry alongside.
// Each lexicon file starts with a placeholder entry count that is patched
// once the real per-barrel totals are known.
func (w *Writer) writeBarrels(segDir string) error {
	bp := barrelParamsFor(w.barrelCount, uint32(len(w.idToTerm)))

	bf, err := os.Create(barrelsPath(segDir))
	if err != nil {
		return fmt.Errorf("creating barrels.bin: %w", err)
	}
	if err := codec.WriteU32(bf, bp.BarrelCount); err != nil {
		bf.Close()
		return fmt.Errorf("writing barrel count: %w", err)
	}
	if err := codec.WriteU32(bf, bp.TermsPerBarrel); err != nil {
		bf.Close()
		return fmt.Errorf("writing terms per barrel: %w", err)
	}
	if err := bf.Close(); err != nil {
		return fmt.Errorf("closing barrels.bin: %w", err)
	}

	inv := make([]*os.File, bp.BarrelCount)
	lex := make([]*os.File, bp.BarrelCount)
	closeAll := func() {
		for _, f := range inv {
			if f != nil {
				f.Close()
			}
		}
		for _, f := range lex {
			if f != nil {
				f.Close()
			}
		}
	}
	defer closeAll()

	for b := uint32(0); b < bp.BarrelCount; b++ {
		if inv[b], err = os.Create(invBarrelPath(segDir, b)); err != nil {
			return fmt.Errorf("creating inverted barrel %d: %w", b, err)
		}
		if lex[b], err = os.Create(lexBarrelPath(segDir, b)); err != nil {
			return fmt.Errorf("creating lexicon barrel %d: %w", b, err)
		}
		// Placeholder entry count, patched below.
		if err := codec.WriteU32(lex[b], 0); err != nil {
			return fmt.Errorf("writing lexicon placeholder %d: %w", b, err)
		}
	}

	offsets := make([]uint64, bp.BarrelCount)
	termCounts := make([]uint32, bp.BarrelCount)

	for tid := uint32(0); tid < uint32(len(w.idToTerm)); tid++ {
		plist := w.inverted[tid]
		if len(plist) == 0 {
			continue
		}
		sort.Slice(plist, func(i, j int) bool { return plist[i].DocID < plist[j].DocID })

		df := uint32(len(plist))
		b := BarrelForTerm(tid, bp)
		termCounts[b]++

		if err := codec.WriteString(lex[b], w.idToTerm[tid]); err != nil {
			return fmt.Errorf("writing lexicon term: %w", err)
		}
		if err := codec.WriteU32(lex[b], tid); err != nil {
			return fmt.Errorf("writing lexicon term id: %w", err)
		}
		if err := codec.WriteU32(lex[b], df); err != nil {
			return fmt.Errorf("writing lexicon df: %w", err)
		}
		if err := codec.WriteU64(lex[b], offsets[b]); err != nil {
			return fmt.Errorf("writing lexicon offset: %w", err)
		}
		if err := codec.WriteU32(lex[b], df); err != nil {
			return fmt.Errorf("writing lexicon count: %w", err)
		}

		for _, p := range plist {
			if err := codec.WriteU32(inv[b], p.DocID); err != nil {
				return fmt.Errorf("writing posting doc id: %w", err)
			}
			if err := codec.WriteU32(inv[b], p.TF); err != nil {
				return fmt.Errorf("writing posting tf: %w", err)
			}
		}
		offsets[b] += uint64(df) * 8
	}

	// Patch the real entry counts into the lexicon headers.
	for b := uint32(0); b < bp.BarrelCount; b++ {
		if err := patchLexiconCount(lex[b], termCounts[b]); err != nil {
			return fmt.Errorf("patching lexicon barrel %d: %w", b, err)
		}
	}
	return nil
}

func patchLexiconCount(f *os.File, count uint32) error {
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	return codec.WriteU32(f, count)
}
