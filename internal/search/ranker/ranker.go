// Package ranker scores documents against a weighted term set with Okapi
// BM25 and keeps a global top-K across segments. Segments are independent
// and are scored in parallel.
package ranker

import (
	"container/heap"
	"context"
	"math"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/corpusnext/papersearch/internal/index/segment"
)

// BM25 parameters.
const (
	K1 = 1.2
	B  = 0.75
)

// WeightedTerm is one query term with its contribution weight (1.0 for
// original terms, lower for semantic expansions).
type WeightedTerm struct {
	Term   string
	Weight float32
}

// Hit identifies one scored document by segment index and segment-local
// doc id.
type Hit struct {
	Score  float32
	SegIdx int
	DocID  uint32
}

// Result is the ranked output over all segments.
type Result struct {
	// Hits are sorted descending by score, at most K entries.
	Hits []Hit
	// TotalFound sums, per segment, the documents that received any
	// positive contribution. A paper present in several segments counts
	// once per segment.
	TotalFound uint64
}

// IDF computes the BM25 inverse document frequency with +1 smoothing.
func IDF(n, df uint32) float32 {
	return float32(math.Log(float64((float32(n)-float32(df)+0.5)/(float32(df)+0.5) + 1.0)))
}

// hitHeap is a min-heap on score so the smallest of the kept top-K is
// always at the root.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *hitHeap) Push(x any) { *h = append(*h, x.(Hit)) }

func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// segmentScores holds one segment's accumulation: a dense score array plus
// a bitmap of the documents actually touched, so candidate collection does
// not walk every document.
type segmentScores struct {
	segIdx  int
	scores  []float32
	matched *roaring.Bitmap
}

func scoreSegment(seg *segment.Segment, segIdx int, terms []WeightedTerm) (*segmentScores, error) {
	acc := &segmentScores{
		segIdx:  segIdx,
		scores:  make([]float32, seg.N),
		matched: roaring.New(),
	}
	if seg.N == 0 || seg.AvgDL == 0 {
		return acc, nil
	}

	for _, wt := range terms {
		e, ok := seg.Lex[wt.Term]
		if !ok || e.DF == 0 {
			continue
		}
		idf := IDF(seg.N, e.DF)

		postings, err := seg.Postings(e)
		if err != nil {
			return nil, err
		}
		for _, p := range postings {
			if p.DocID >= seg.N {
				continue
			}
			dl := float32(seg.Docs[p.DocID].DocLen)
			tf := float32(p.TF)
			denom := tf + K1*(1.0-B+B*(dl/seg.AvgDL))
			acc.scores[p.DocID] += wt.Weight * idf * tf * (K1 + 1.0) / denom
			acc.matched.Add(p.DocID)
		}
	}
	return acc, nil
}

// Rank scores every segment against the weighted term set and returns the
// global top k hits. parallelism bounds the number of segments scored
// concurrently; values below 1 mean sequential.
func Rank(ctx context.Context, segs []*segment.Segment, terms []WeightedTerm, k int, parallelism int) (Result, error) {
	var res Result
	if k <= 0 || len(terms) == 0 || len(segs) == 0 {
		return res, nil
	}
	if parallelism < 1 {
		parallelism = 1
	}

	var mu sync.Mutex
	top := make(hitHeap, 0, k)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, seg := range segs {
		g.Go(func() error {
			acc, err := scoreSegment(seg, i, terms)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			res.TotalFound += acc.matched.GetCardinality()
			it := acc.matched.Iterator()
			for it.HasNext() {
				docID := it.Next()
				h := Hit{Score: acc.scores[docID], SegIdx: acc.segIdx, DocID: docID}
				if top.Len() < k {
					heap.Push(&top, h)
				} else if h.Score > top[0].Score {
					top[0] = h
					heap.Fix(&top, 0)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res.Hits = []Hit(top)
	sort.Slice(res.Hits, func(i, j int) bool { return res.Hits[i].Score > res.Hits[j].Score })
	return res, nil
}
