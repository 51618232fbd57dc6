// Package metadata maintains a byte-offset map over the corpus-wide
// metadata.csv keyed by paper uid, so that the search path can fetch only
// the rows it needs. Rows are parsed with minimal CSV rules: a double quote
// toggles quoting and commas split only outside quotes.
package metadata

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/corpusnext/papersearch/pkg/logger"

	pserrors "github.com/corpusnext/papersearch/pkg/errors"
)

// RowRef locates one CSV row by absolute byte offset and length (line
// terminator included).
type RowRef struct {
	Offset uint64
	Length uint32
}

// Record holds the display fields parsed from one metadata row.
type Record struct {
	URL         string
	PublishTime string
	Author      string
	Title       string
	Abstract    string
}

// Index maps paper uids to their CSV row positions. The header column map
// is captured once at scan time so fetches never re-parse the header.
type Index struct {
	Path string
	Rows map[string]RowRef

	cols columnIndex
}

type columnIndex struct {
	uid      int
	url      int
	publish  int
	authors  int
	title    int
	abstract int
}

// splitRow applies the minimal CSV rules shared by the scanner and fetch.
func splitRow(line string) []string {
	out := make([]string, 0, 16)
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}

// Empty returns an index with no rows, used when the corpus CSV is not
// present yet (a freshly initialised index).
func Empty(path string) *Index {
	return &Index{Path: path, Rows: make(map[string]RowRef), cols: resolveColumns(nil)}
}

// ReadAllRows parses every line of r with the minimal CSV rules, header
// included. The bulk builder uses it; the query path never materialises the
// whole file.
func ReadAllRows(r io.Reader) ([][]string, error) {
	var rows [][]string
	br := bufio.NewReaderSize(r, 1<<20)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			trimmed := strings.TrimRight(line, "\r\n")
			if trimmed != "" {
				rows = append(rows, splitRow(trimmed))
			}
		}
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
	}
}

// Scan streams the CSV once, recording the byte position of the first row
// for each uid. The cord_uid column is mandatory; the optional display
// columns are resolved to indices here and reused by every Fetch.
func Scan(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata csv: %w", err)
	}
	defer f.Close()

	log := logger.WithComponent("metadata")

	r := bufio.NewReaderSize(f, 1<<20)
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading metadata header: %w", err)
	}
	offset := uint64(len(header))

	idx := &Index{
		Path: path,
		Rows: make(map[string]RowRef),
		cols: resolveColumns(splitRow(strings.TrimRight(header, "\r\n"))),
	}
	if idx.cols.uid < 0 {
		return nil, fmt.Errorf("%w: cord_uid", pserrors.ErrMissingColumn)
	}

	var loaded, bad int
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			lineStart := offset
			lineLen := uint32(len(line))
			offset += uint64(lineLen)

			fields := splitRow(strings.TrimRight(line, "\r\n"))
			if len(fields) <= idx.cols.uid {
				bad++
				continue
			}
			uid := fields[idx.cols.uid]
			if uid == "" {
				continue
			}
			// First occurrence wins; later rows with the same uid are
			// duplicates in the corpus.
			if _, ok := idx.Rows[uid]; !ok {
				idx.Rows[uid] = RowRef{Offset: lineStart, Length: lineLen}
				loaded++
			}
		}
		if err != nil {
			break
		}
	}

	log.Info("metadata scan complete", "rows", loaded, "bad_rows", bad, "path", path)
	return idx, nil
}

func resolveColumns(header []string) columnIndex {
	cols := columnIndex{uid: -1, url: -1, publish: -1, authors: -1, title: -1, abstract: -1}
	for i, name := range header {
		switch name {
		case "cord_uid":
			cols.uid = i
		case "url":
			cols.url = i
		case "publish_time":
			cols.publish = i
		case "authors":
			cols.authors = i
		case "title":
			cols.title = i
		case "abstract":
			cols.abstract = i
		}
	}
	return cols
}

// Fetch seeks to the referenced row and parses its display fields. A stale
// or unreadable reference yields an empty Record, never an error: the hit
// is still served with whatever the segment itself knows.
func (idx *Index) Fetch(ref RowRef) Record {
	var rec Record

	f, err := os.Open(idx.Path)
	if err != nil {
		logger.WithComponent("metadata").Warn("fetch open failed", "path", idx.Path, "error", err)
		return rec
	}
	defer f.Close()

	buf := make([]byte, ref.Length)
	if _, err := f.ReadAt(buf, int64(ref.Offset)); err != nil {
		logger.WithComponent("metadata").Warn("fetch read failed", "offset", ref.Offset, "error", err)
		return rec
	}

	fields := splitRow(strings.TrimRight(string(buf), "\r\n"))
	get := func(i int) string {
		if i >= 0 && i < len(fields) {
			return fields[i]
		}
		return ""
	}

	// Multi-valued url cells use ';' separators; the first value wins.
	rec.URL = firstValue(get(idx.cols.url))
	rec.PublishTime = get(idx.cols.publish)
	rec.Author = AuthorDisplay(get(idx.cols.authors))
	rec.Title = get(idx.cols.title)
	rec.Abstract = get(idx.cols.abstract)
	return rec
}

// Lookup returns the row reference for a uid.
func (idx *Index) Lookup(uid string) (RowRef, bool) {
	ref, ok := idx.Rows[uid]
	return ref, ok
}

func firstValue(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return s[:i]
	}
	return s
}

// AuthorDisplay reduces a raw authors cell to "Surname et al.". The first
// author is the part before ';'. A leading parenthetical (a romanised form)
// replaces the name, the surname is the part before the first comma or the
// last whitespace-separated token, and " et al." is appended whenever a
// surname was found.
func AuthorDisplay(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	first := s
	if i := strings.IndexByte(s, ';'); i >= 0 {
		first = s[:i]
	}
	first = strings.TrimRight(strings.TrimSpace(first), ", \t")
	first = strings.TrimSpace(first)
	if first == "" {
		return ""
	}

	if first[0] == '(' {
		if close := strings.IndexByte(first, ')'); close > 1 {
			if inside := strings.TrimSpace(first[1:close]); inside != "" {
				first = inside
			}
		}
	}

	var surname string
	if comma := strings.IndexByte(first, ','); comma >= 0 {
		surname = strings.TrimSpace(first[:comma])
	} else {
		tmp := strings.TrimSpace(first)
		if sp := strings.LastIndexAny(tmp, " \t"); sp >= 0 {
			surname = strings.TrimSpace(tmp[sp+1:])
		} else {
			surname = tmp
		}
	}
	surname = strings.TrimSpace(surname)
	if surname == "" {
		return ""
	}
	return surname + " et al."
}
