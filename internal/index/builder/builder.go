// Package builder materialises index segments from a raw corpus slice or a
// single incremental document. Segments are written into a scratch
// directory and renamed into place, so a failed build never leaves a
// partial segment visible to the loader.
package builder

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/corpusnext/papersearch/internal/index/segment"
	"github.com/corpusnext/papersearch/internal/index/tokenizer"
	"github.com/corpusnext/papersearch/internal/metadata"
	"github.com/corpusnext/papersearch/pkg/logger"

	pserrors "github.com/corpusnext/papersearch/pkg/errors"
)

// Builder writes new segments under <indexDir>/segments and keeps
// manifest.bin in step.
type Builder struct {
	indexDir    string
	barrelCount uint32
	logger      *slog.Logger
}

// New creates a Builder rooted at indexDir.
func New(indexDir string, barrelCount uint32) *Builder {
	return &Builder{
		indexDir:    indexDir,
		barrelCount: barrelCount,
		logger:      logger.WithComponent("builder"),
	}
}

func (b *Builder) manifestPath() string { return filepath.Join(b.indexDir, "manifest.bin") }
func (b *Builder) segmentsRoot() string { return filepath.Join(b.indexDir, "segments") }

// paperBody mirrors the per-paper JSON layout: a title plus abstract and
// body_text section arrays.
type paperBody struct {
	Title    string         `json:"title"`
	Abstract []paperSection `json:"abstract"`
	BodyText []paperSection `json:"body_text"`
}

type paperSection struct {
	Text string `json:"text"`
}

// extractText concatenates the searchable fields of a paper JSON.
func extractText(body paperBody) string {
	var sb strings.Builder
	if body.Title != "" {
		sb.WriteString(body.Title)
		sb.WriteByte('\n')
	}
	for _, sec := range body.Abstract {
		sb.WriteString(sec.Text)
		sb.WriteByte('\n')
	}
	for _, sec := range body.BodyText {
		sb.WriteString(sec.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func readPaperJSON(path string) (paperBody, error) {
	var body paperBody
	data, err := os.ReadFile(path)
	if err != nil {
		return body, err
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return body, err
	}
	return body, nil
}

// nextSegmentName determines the next 1-based segment name from the
// manifest (or the directory scan when the manifest is missing).
func (b *Builder) nextSegmentName() (string, []string, error) {
	names, err := segment.LoadManifest(b.manifestPath())
	if err != nil {
		return "", nil, err
	}
	if len(names) == 0 {
		if names, err = segment.ScanSegmentDirs(b.segmentsRoot()); err != nil {
			return "", nil, err
		}
	}
	return segment.Name(uint32(len(names)) + 1), names, nil
}

// commit renames the scratch directory into its final place and appends the
// new segment to the manifest.
func (b *Builder) commit(scratch, segDir, segName string, names []string) error {
	if err := os.Rename(scratch, segDir); err != nil {
		return fmt.Errorf("renaming segment into place: %w", err)
	}
	names = append(names, segName)
	if err := segment.SaveManifest(b.manifestPath(), names); err != nil {
		return fmt.Errorf("updating manifest: %w", err)
	}
	return nil
}

// BuildSlice ingests a corpus slice directory (metadata.csv plus the
// document_parses tree it references) into one new segment. Rows whose JSON
// is unreadable or that produce no indexable tokens are skipped. Returns
// the new segment name and the number of documents indexed.
func (b *Builder) BuildSlice(corpusDir string) (string, int, error) {
	csvPath := filepath.Join(corpusDir, "metadata.csv")
	rows, err := scanSliceRows(csvPath)
	if err != nil {
		return "", 0, err
	}

	w := segment.NewWriter(b.barrelCount)
	skipped := 0
	for _, row := range rows {
		relPath := pickParsePath(corpusDir, row.pdfJSON, row.pmcJSON)
		if relPath == "" {
			skipped++
			continue
		}
		body, err := readPaperJSON(filepath.Join(corpusDir, relPath))
		if err != nil {
			b.logger.Warn("skipping unreadable paper json", "uid", row.uid, "path", relPath, "error", err)
			skipped++
			continue
		}
		termFreqs, docLen := tokenizer.TermFrequencies(extractText(body))
		if docLen == 0 {
			skipped++
			continue
		}
		counts := make([]segment.TermCount, len(termFreqs))
		for i, tf := range termFreqs {
			counts[i] = segment.TermCount{Term: tf.Term, TF: tf.TF}
		}
		w.AddDocument(segment.DocRecord{
			UID:     row.uid,
			Title:   row.title,
			RelPath: relPath,
			DocLen:  docLen,
		}, counts)
	}

	if w.DocCount() == 0 {
		return "", 0, fmt.Errorf("%w: corpus slice produced no documents", pserrors.ErrNoIndexableTokens)
	}

	segName, names, err := b.nextSegmentName()
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(b.segmentsRoot(), 0o755); err != nil {
		return "", 0, fmt.Errorf("creating segments root: %w", err)
	}

	segDir := filepath.Join(b.segmentsRoot(), segName)
	scratch := filepath.Join(b.segmentsRoot(), ".tmp-"+segName)
	if err := w.Write(scratch); err != nil {
		os.RemoveAll(scratch)
		return "", 0, err
	}
	if err := b.commit(scratch, segDir, segName, names); err != nil {
		os.RemoveAll(scratch)
		return "", 0, err
	}

	b.logger.Info("slice build complete",
		"segment", segName, "docs", w.DocCount(), "skipped", skipped)
	return segName, w.DocCount(), nil
}

// AddDocument builds a one-document segment from a single paper JSON and
// appends it to the manifest. Unlike the bulk path, an unreadable or empty
// document fails the call.
func (b *Builder) AddDocument(root, relPath, uid, title string) (string, error) {
	jsonPath := filepath.Join(root, relPath)
	body, err := readPaperJSON(jsonPath)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", pserrors.ErrInvalidInput, jsonPath, err)
	}

	termFreqs, docLen := tokenizer.TermFrequencies(extractText(body))
	if docLen == 0 {
		return "", pserrors.ErrNoIndexableTokens
	}
	counts := make([]segment.TermCount, len(termFreqs))
	for i, tf := range termFreqs {
		counts[i] = segment.TermCount{Term: tf.Term, TF: tf.TF}
	}

	w := segment.NewWriter(b.barrelCount)
	w.AddDocument(segment.DocRecord{
		UID:     uid,
		Title:   title,
		RelPath: relPath,
		DocLen:  docLen,
	}, counts)

	segName, names, err := b.nextSegmentName()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.segmentsRoot(), 0o755); err != nil {
		return "", fmt.Errorf("creating segments root: %w", err)
	}

	segDir := filepath.Join(b.segmentsRoot(), segName)
	scratch := filepath.Join(b.segmentsRoot(), ".tmp-"+segName)
	if err := w.Write(scratch); err != nil {
		os.RemoveAll(scratch)
		return "", err
	}
	if err := b.commit(scratch, segDir, segName, names); err != nil {
		os.RemoveAll(scratch)
		return "", err
	}

	b.logger.Info("document added", "segment", segName, "uid", uid, "doc_len", docLen)
	return segName, nil
}

// pickParsePath returns the first referenced JSON path that exists on disk,
// preferring the pdf parse over the pmc one. Multi-valued cells use ';'
// separators.
func pickParsePath(corpusDir, pdfJSON, pmcJSON string) string {
	for _, cell := range []string{pdfJSON, pmcJSON} {
		for _, cand := range strings.Split(cell, ";") {
			cand = strings.TrimSpace(cand)
			if cand == "" {
				continue
			}
			if _, err := os.Stat(filepath.Join(corpusDir, cand)); err == nil {
				return cand
			}
		}
	}
	return ""
}

// sliceRow is one metadata.csv row as seen by the bulk builder.
type sliceRow struct {
	uid     string
	title   string
	pdfJSON string
	pmcJSON string
}

// scanSliceRows reads the builder-relevant columns of metadata.csv.
// cord_uid, pdf_json_files, and pmc_json_files are required.
func scanSliceRows(csvPath string) ([]sliceRow, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("opening metadata csv: %w", err)
	}
	defer f.Close()

	rows, err := metadata.ReadAllRows(f)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("metadata csv is empty")
	}

	header := rows[0]
	uidI, titleI, pdfI, pmcI := -1, -1, -1, -1
	for i, name := range header {
		switch name {
		case "cord_uid":
			uidI = i
		case "title":
			titleI = i
		case "pdf_json_files":
			pdfI = i
		case "pmc_json_files":
			pmcI = i
		}
	}
	if uidI < 0 {
		return nil, fmt.Errorf("%w: cord_uid", pserrors.ErrMissingColumn)
	}
	if pdfI < 0 || pmcI < 0 {
		return nil, fmt.Errorf("%w: pdf_json_files/pmc_json_files", pserrors.ErrMissingColumn)
	}

	get := func(fields []string, i int) string {
		if i >= 0 && i < len(fields) {
			return fields[i]
		}
		return ""
	}

	out := make([]sliceRow, 0, len(rows)-1)
	for _, fields := range rows[1:] {
		uid := get(fields, uidI)
		if uid == "" {
			continue
		}
		out = append(out, sliceRow{
			uid:     uid,
			title:   get(fields, titleI),
			pdfJSON: get(fields, pdfI),
			pmcJSON: get(fields, pmcI),
		})
	}
	return out, nil
}
