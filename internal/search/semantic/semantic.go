// Package semantic implements optional query expansion over classic word
// embeddings. Vectors are loaded from a text file (word v1 v2 ... vd, with
// an optional "count dim" header), filtered to the terms present in the
// loaded lexicon, and L2-normalised so cosine similarity is a dot product.
package semantic

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/corpusnext/papersearch/pkg/logger"
)

// Params tunes the expansion; see DefaultParams for the reference values.
type Params struct {
	PerTerm       int
	GlobalTopK    int
	MinSimilarity float32
	Alpha         float32
	MaxTotalTerms int
}

// DefaultParams returns the reference expansion parameters.
func DefaultParams() Params {
	return Params{
		PerTerm:       3,
		GlobalTopK:    5,
		MinSimilarity: 0.55,
		Alpha:         0.6,
		MaxTotalTerms: 40,
	}
}

// WeightedTerm is one expanded term with its query weight.
type WeightedTerm struct {
	Term   string
	Weight float32
}

// Index holds the loaded vectors. A zero Index is valid and disabled.
type Index struct {
	enabled   bool
	dim       int
	terms     []string
	termToRow map[string]uint32
	// vecs is row-major: row r occupies vecs[r*dim : (r+1)*dim].
	vecs []float32
}

// Enabled reports whether at least one usable vector was loaded.
func (ix *Index) Enabled() bool {
	return ix != nil && ix.enabled
}

// TermCount returns the number of loaded vectors.
func (ix *Index) TermCount() int {
	if ix == nil {
		return 0
	}
	return len(ix.terms)
}

func l2Normalize(v []float32) {
	var ss float64
	for _, x := range v {
		ss += float64(x) * float64(x)
	}
	n := math.Sqrt(ss)
	if n <= 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// looksLikeHeader reports whether the first line is a "count dim" header
// rather than a vector row.
func looksLikeHeader(line string) bool {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return false
	}
	a, err1 := strconv.ParseInt(fields[0], 10, 64)
	b, err2 := strconv.ParseInt(fields[1], 10, 64)
	return err1 == nil && err2 == nil && a > 0 && b > 0 && b < 5000
}

// Load reads the embeddings file, keeping only vectors for words in
// neededTerms. Rows with a mismatched dimension are skipped. The returned
// index is disabled (never nil, never an error) when no usable vectors
// were found; a missing file is reported as an error so the caller can
// distinguish "no embeddings configured" from "embeddings file broken".
func Load(path string, neededTerms map[string]struct{}) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening embeddings file: %w", err)
	}
	defer f.Close()

	ix := &Index{termToRow: make(map[string]uint32)}
	log := logger.WithComponent("semantic")

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<24)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if first {
			first = false
			if looksLikeHeader(line) {
				continue
			}
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		word := fields[0]
		if len(neededTerms) > 0 {
			if _, ok := neededTerms[word]; !ok {
				continue
			}
		}

		v := make([]float32, 0, len(fields)-1)
		ok := true
		for _, fs := range fields[1:] {
			x, err := strconv.ParseFloat(fs, 32)
			if err != nil {
				ok = false
				break
			}
			v = append(v, float32(x))
		}
		if !ok || len(v) < 10 {
			continue
		}
		if ix.dim == 0 {
			ix.dim = len(v)
		}
		if len(v) != ix.dim {
			continue
		}

		l2Normalize(v)
		row := uint32(len(ix.terms))
		ix.terms = append(ix.terms, word)
		ix.termToRow[word] = row
		ix.vecs = append(ix.vecs, v...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading embeddings file: %w", err)
	}

	ix.enabled = len(ix.terms) > 0 && ix.dim > 0
	if ix.enabled {
		log.Info("embeddings loaded", "terms", len(ix.terms), "dim", ix.dim, "path", path)
	} else {
		log.Warn("embeddings file had no usable vectors", "path", path)
	}
	return ix, nil
}

func (ix *Index) vec(term string) []float32 {
	row, ok := ix.termToRow[term]
	if !ok {
		return nil
	}
	return ix.vecs[int(row)*ix.dim : (int(row)+1)*ix.dim]
}

type neighbor struct {
	row uint32
	sim float32
}

// mostSimilar scans every stored row and keeps the topk most similar to q,
// skipping banned rows and anything below minSim.
func (ix *Index) mostSimilar(q []float32, topk int, minSim float32, banned map[uint32]struct{}) []neighbor {
	if !ix.enabled || topk <= 0 || len(q) != ix.dim {
		return nil
	}
	out := make([]neighbor, 0, topk+1)
	for r := 0; r < len(ix.terms); r++ {
		row := uint32(r)
		if _, skip := banned[row]; skip {
			continue
		}
		sim := dot(q, ix.vecs[r*ix.dim:(r+1)*ix.dim])
		if sim < minSim {
			continue
		}
		out = append(out, neighbor{row: row, sim: sim})
		if len(out) > topk {
			sort.Slice(out, func(i, j int) bool { return out[i].sim > out[j].sim })
			out = out[:topk]
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sim > out[j].sim })
	return out
}

// Expand produces the weighted term set for a query. Original terms keep
// weight 1.0; per-term neighbours get min(α, α·sim); centroid neighbours
// get 0.8·α·sim. Weights merge by maximum and the result is sorted
// descending, truncated to MaxTotalTerms.
func (ix *Index) Expand(queryTerms []string, p Params) []WeightedTerm {
	weights := make(map[string]float32, len(queryTerms)*2)
	for _, t := range queryTerms {
		if t != "" {
			weights[t] = 1.0
		}
	}

	if !ix.Enabled() || len(queryTerms) == 0 {
		return sortedWeights(weights, 0)
	}

	banned := make(map[uint32]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		if row, ok := ix.termToRow[t]; ok {
			banned[row] = struct{}{}
		}
	}

	// Per-term nearest neighbours.
	for _, t := range queryTerms {
		v := ix.vec(t)
		if v == nil {
			continue
		}
		for _, nb := range ix.mostSimilar(v, p.PerTerm, p.MinSimilarity, banned) {
			cand := ix.terms[nb.row]
			w := p.Alpha * nb.sim
			if w > p.Alpha {
				w = p.Alpha
			}
			if w < 0 {
				w = 0
			}
			if cur, ok := weights[cand]; !ok || w > cur {
				weights[cand] = w
			}
		}
	}

	// Centroid neighbours: mean of the query vectors, renormalised.
	if p.GlobalTopK > 0 {
		q := make([]float32, ix.dim)
		cnt := 0
		for _, t := range queryTerms {
			v := ix.vec(t)
			if v == nil {
				continue
			}
			for j := range q {
				q[j] += v[j]
			}
			cnt++
		}
		if cnt > 0 {
			for j := range q {
				q[j] /= float32(cnt)
			}
			l2Normalize(q)
			scale := 0.8 * p.Alpha
			for _, nb := range ix.mostSimilar(q, p.GlobalTopK, p.MinSimilarity, banned) {
				cand := ix.terms[nb.row]
				w := scale * nb.sim
				if w > scale {
					w = scale
				}
				if w < 0 {
					w = 0
				}
				if cur, ok := weights[cand]; !ok || w > cur {
					weights[cand] = w
				}
			}
		}
	}

	return sortedWeights(weights, p.MaxTotalTerms)
}

// ExpandOrIdentity is Expand when the index is enabled, or the identity
// weighting otherwise.
func ExpandOrIdentity(ix *Index, queryTerms []string, p Params) []WeightedTerm {
	if ix.Enabled() {
		return ix.Expand(queryTerms, p)
	}
	out := make([]WeightedTerm, 0, len(queryTerms))
	for _, t := range queryTerms {
		out = append(out, WeightedTerm{Term: t, Weight: 1.0})
	}
	return out
}

func sortedWeights(weights map[string]float32, max int) []WeightedTerm {
	out := make([]WeightedTerm, 0, len(weights))
	for t, w := range weights {
		out = append(out, WeightedTerm{Term: t, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Term < out[j].Term
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
