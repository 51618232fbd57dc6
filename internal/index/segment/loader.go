package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/corpusnext/papersearch/internal/index/codec"

	pserrors "github.com/corpusnext/papersearch/pkg/errors"
)

// Segment is a loaded, read-only index unit. The docs table and lexicon are
// held in memory; posting bytes stay on disk and are fetched with ReadAt
// against the per-barrel files.
type Segment struct {
	Dir   string
	N     uint32
	AvgDL float32
	Docs  []DocRecord
	Lex   map[string]LexEntry

	barrelParams BarrelParams
	useBarrels   bool
	invBarrels   []*os.File
	invLegacy    *os.File
}

// Open loads a segment from segDir. stats.bin and docs.bin are mandatory;
// the barrelised layout is preferred, with a fallback to the legacy
// monolithic lexicon.bin + inverted.bin pair.
func Open(segDir string) (*Segment, error) {
	s := &Segment{Dir: segDir}

	if err := s.loadStats(); err != nil {
		return nil, err
	}
	if err := s.loadDocs(); err != nil {
		return nil, err
	}

	if hasBarrels(segDir) {
		if err := s.loadBarrels(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
	if err := s.loadLegacy(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func hasBarrels(segDir string) bool {
	for _, p := range []string{barrelsPath(segDir), invBarrelPath(segDir, 0), lexBarrelPath(segDir, 0)} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (s *Segment) loadStats() error {
	f, err := os.Open(statsPath(s.Dir))
	if err != nil {
		return fmt.Errorf("%w: opening stats.bin: %v", pserrors.ErrSegmentCorrupt, err)
	}
	defer f.Close()

	if s.N, err = codec.ReadU32(f); err != nil {
		return fmt.Errorf("%w: reading doc count: %v", pserrors.ErrSegmentCorrupt, err)
	}
	if s.AvgDL, err = codec.ReadF32(f); err != nil {
		return fmt.Errorf("%w: reading avgdl: %v", pserrors.ErrSegmentCorrupt, err)
	}
	return nil
}

func (s *Segment) loadDocs() error {
	f, err := os.Open(docsPath(s.Dir))
	if err != nil {
		return fmt.Errorf("%w: opening docs.bin: %v", pserrors.ErrSegmentCorrupt, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	n, err := codec.ReadU32(r)
	if err != nil {
		return fmt.Errorf("%w: reading docs count: %v", pserrors.ErrSegmentCorrupt, err)
	}
	s.Docs = make([]DocRecord, n)
	for i := uint32(0); i < n; i++ {
		d := &s.Docs[i]
		if d.UID, err = codec.ReadString(r); err != nil {
			return fmt.Errorf("%w: reading doc %d uid: %v", pserrors.ErrSegmentCorrupt, i, err)
		}
		if d.Title, err = codec.ReadString(r); err != nil {
			return fmt.Errorf("%w: reading doc %d title: %v", pserrors.ErrSegmentCorrupt, i, err)
		}
		if d.RelPath, err = codec.ReadString(r); err != nil {
			return fmt.Errorf("%w: reading doc %d relpath: %v", pserrors.ErrSegmentCorrupt, i, err)
		}
		if d.DocLen, err = codec.ReadU32(r); err != nil {
			return fmt.Errorf("%w: reading doc %d length: %v", pserrors.ErrSegmentCorrupt, i, err)
		}
	}
	return nil
}

func (s *Segment) loadBarrels() error {
	f, err := os.Open(barrelsPath(s.Dir))
	if err != nil {
		return fmt.Errorf("%w: opening barrels.bin: %v", pserrors.ErrSegmentCorrupt, err)
	}
	bp := BarrelParams{}
	bp.BarrelCount, err = codec.ReadU32(f)
	if err == nil {
		bp.TermsPerBarrel, err = codec.ReadU32(f)
	}
	f.Close()
	if err != nil {
		return fmt.Errorf("%w: reading barrels.bin: %v", pserrors.ErrSegmentCorrupt, err)
	}
	s.barrelParams = bp
	s.useBarrels = true

	s.invBarrels = make([]*os.File, bp.BarrelCount)
	for b := uint32(0); b < bp.BarrelCount; b++ {
		if s.invBarrels[b], err = os.Open(invBarrelPath(s.Dir, b)); err != nil {
			return fmt.Errorf("%w: opening inverted barrel %d: %v", pserrors.ErrSegmentCorrupt, b, err)
		}
	}

	s.Lex = make(map[string]LexEntry)
	for b := uint32(0); b < bp.BarrelCount; b++ {
		if err := s.loadLexiconBarrel(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *Segment) loadLexiconBarrel(b uint32) error {
	f, err := os.Open(lexBarrelPath(s.Dir, b))
	if err != nil {
		return fmt.Errorf("%w: opening lexicon barrel %d: %v", pserrors.ErrSegmentCorrupt, b, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	count, err := codec.ReadU32(r)
	if err != nil {
		return fmt.Errorf("%w: reading lexicon barrel %d count: %v", pserrors.ErrSegmentCorrupt, b, err)
	}
	for i := uint32(0); i < count; i++ {
		term, err := codec.ReadString(r)
		if err != nil {
			return fmt.Errorf("%w: reading lexicon barrel %d entry %d: %v", pserrors.ErrSegmentCorrupt, b, i, err)
		}
		var e LexEntry
		if e.TermID, err = codec.ReadU32(r); err == nil {
			if e.DF, err = codec.ReadU32(r); err == nil {
				if e.Offset, err = codec.ReadU64(r); err == nil {
					e.Count, err = codec.ReadU32(r)
				}
			}
		}
		if err != nil {
			return fmt.Errorf("%w: reading lexicon barrel %d entry %q: %v", pserrors.ErrSegmentCorrupt, b, term, err)
		}
		e.Barrel = b
		s.Lex[term] = e
	}
	return nil
}

// loadLegacy opens the pre-barrel monolithic layout: one lexicon.bin (with
// no per-entry barrel id) and one inverted.bin holding every posting list.
func (s *Segment) loadLegacy() error {
	f, err := os.Open(legacyLexPath(s.Dir))
	if err != nil {
		return fmt.Errorf("%w: opening lexicon.bin: %v", pserrors.ErrSegmentCorrupt, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	count, err := codec.ReadU32(r)
	if err != nil {
		return fmt.Errorf("%w: reading lexicon count: %v", pserrors.ErrSegmentCorrupt, err)
	}
	s.Lex = make(map[string]LexEntry, count)
	for i := uint32(0); i < count; i++ {
		term, err := codec.ReadString(r)
		if err != nil {
			return fmt.Errorf("%w: reading lexicon entry %d: %v", pserrors.ErrSegmentCorrupt, i, err)
		}
		var e LexEntry
		if e.TermID, err = codec.ReadU32(r); err == nil {
			if e.DF, err = codec.ReadU32(r); err == nil {
				if e.Offset, err = codec.ReadU64(r); err == nil {
					e.Count, err = codec.ReadU32(r)
				}
			}
		}
		if err != nil {
			return fmt.Errorf("%w: reading lexicon entry %q: %v", pserrors.ErrSegmentCorrupt, term, err)
		}
		s.Lex[term] = e
	}

	if s.invLegacy, err = os.Open(legacyInvPath(s.Dir)); err != nil {
		return fmt.Errorf("%w: opening inverted.bin: %v", pserrors.ErrSegmentCorrupt, err)
	}
	s.useBarrels = false
	return nil
}

// Postings reads the full posting list for a lexicon entry. Records are
// fixed 8-byte (docId, tf) pairs read at the entry's byte offset in its
// barrel (or the monolithic file for legacy segments).
func (s *Segment) Postings(e LexEntry) ([]Posting, error) {
	f := s.invLegacy
	if s.useBarrels {
		if e.Barrel >= uint32(len(s.invBarrels)) {
			return nil, fmt.Errorf("%w: barrel %d out of range", pserrors.ErrSegmentCorrupt, e.Barrel)
		}
		f = s.invBarrels[e.Barrel]
	}
	if f == nil {
		return nil, fmt.Errorf("%w: no posting file open", pserrors.ErrSegmentCorrupt)
	}

	buf := make([]byte, int64(e.Count)*8)
	if _, err := f.ReadAt(buf, int64(e.Offset)); err != nil {
		return nil, fmt.Errorf("%w: reading %d postings at offset %d: %v", pserrors.ErrSegmentCorrupt, e.Count, e.Offset, err)
	}

	out := make([]Posting, e.Count)
	for i := range out {
		out[i].DocID = binary.LittleEndian.Uint32(buf[i*8:])
		out[i].TF = binary.LittleEndian.Uint32(buf[i*8+4:])
	}
	return out, nil
}

// Params returns the barrel routing parameters for a barrelised segment.
// Legacy segments report a zero value.
func (s *Segment) Params() BarrelParams {
	return s.barrelParams
}

// Close releases the segment's open posting file handles.
func (s *Segment) Close() {
	for _, f := range s.invBarrels {
		if f != nil {
			f.Close()
		}
	}
	s.invBarrels = nil
	if s.invLegacy != nil {
		s.invLegacy.Close()
		s.invLegacy = nil
	}
}
