// Package engine coordinates the loaded segments, metadata offsets,
// autocomplete trie, optional embeddings, and the result caches behind a
// single façade. One coarse mutex serialises every public operation:
// searches mutate cache recency, so there is no read-only path.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corpusnext/papersearch/internal/cache"
	"github.com/corpusnext/papersearch/internal/events"
	"github.com/corpusnext/papersearch/internal/index/builder"
	"github.com/corpusnext/papersearch/internal/index/segment"
	"github.com/corpusnext/papersearch/internal/index/tokenizer"
	"github.com/corpusnext/papersearch/internal/metadata"
	"github.com/corpusnext/papersearch/internal/search/ranker"
	"github.com/corpusnext/papersearch/internal/search/semantic"
	"github.com/corpusnext/papersearch/internal/suggest"
	"github.com/corpusnext/papersearch/pkg/config"
	"github.com/corpusnext/papersearch/pkg/logger"
	"github.com/corpusnext/papersearch/pkg/metrics"

	pserrors "github.com/corpusnext/papersearch/pkg/errors"
)

// SearchHit is one ranked result. Metadata-backed fields are present only
// when the corpus row could be resolved.
type SearchHit struct {
	Score       float32 `json:"score"`
	Segment     string  `json:"segment"`
	DocID       uint32  `json:"docId"`
	UID         string  `json:"cord_uid"`
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	PublishTime string  `json:"publish_time,omitempty"`
	Author      string  `json:"author,omitempty"`
}

// SearchResult is the full response for one search call. FromCache is an
// engine-internal marker and never serialised to clients.
type SearchResult struct {
	Query    string      `json:"query"`
	K        int         `json:"k"`
	Segments int         `json:"segments"`
	Found    uint64      `json:"found"`
	Results  []SearchHit `json:"results"`

	FromCache bool `json:"-"`
}

// SuggestResult is the response for one autocomplete call.
type SuggestResult struct {
	Query       string   `json:"query"`
	Limit       int      `json:"limit"`
	Suggestions []string `json:"suggestions"`
}

// AddDocumentResult reports an incremental ingest.
type AddDocumentResult struct {
	OK       bool   `json:"ok"`
	Segment  string `json:"segment"`
	Reloaded bool   `json:"reloaded"`
}

// Engine is the search core façade.
type Engine struct {
	mu sync.Mutex

	cfg     *config.Config
	metrics *metrics.Metrics
	events  *events.Collector
	logger  *slog.Logger

	indexDir string
	segNames []string
	segments []*segment.Segment
	meta     *metadata.Index
	trie     *suggest.Trie
	sem      *semantic.Index

	builder *builder.Builder

	searchCache   *cache.Cache
	overviewCache *cache.Cache
	summaryCache  *cache.Cache
}

// New creates an Engine over cfg. metrics and ev may be nil. Call Reload
// before serving queries.
func New(cfg *config.Config, m *metrics.Metrics, ev *events.Collector) *Engine {
	e := &Engine{
		cfg:      cfg,
		metrics:  m,
		events:   ev,
		logger:   logger.WithComponent("engine"),
		indexDir: cfg.Index.Dir,
		builder:  builder.New(cfg.Index.Dir, cfg.Index.BarrelCount),
	}
	e.searchCache = cache.New("search",
		filepath.Join(cfg.Cache.Dir, "search_cache.json"), cfg.Cache.SearchEntries)
	e.overviewCache = cache.New("ai_overview",
		filepath.Join(cfg.Cache.Dir, "ai_overview_cache.json"), cfg.Cache.OverviewEntries)
	e.summaryCache = cache.New("ai_summary",
		filepath.Join(cfg.Cache.Dir, "ai_summary_cache.json"), cfg.Cache.SummaryEntries)

	if m != nil {
		e.searchCache.SetEvictionHook(func() { m.CacheEvictionsTotal.WithLabelValues("search").Inc() })
		e.overviewCache.SetEvictionHook(func() { m.CacheEvictionsTotal.WithLabelValues("ai_overview").Inc() })
		e.summaryCache.SetEvictionHook(func() { m.CacheEvictionsTotal.WithLabelValues("ai_summary").Inc() })
	}
	return e
}

// Reload rebuilds all engine state from disk. On any failure the previous
// state stays in place and the error is returned.
func (e *Engine) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.reloadLocked()
	if e.metrics != nil {
		if err != nil {
			e.metrics.ReloadsTotal.WithLabelValues("error").Inc()
		} else {
			e.metrics.ReloadsTotal.WithLabelValues("ok").Inc()
		}
	}
	return err
}

func (e *Engine) reloadLocked() error {
	start := time.Now()

	manifestPath := filepath.Join(e.indexDir, "manifest.bin")
	segNames, err := segment.LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	if len(segNames) == 0 {
		if segNames, err = segment.ScanSegmentDirs(filepath.Join(e.indexDir, "segments")); err != nil {
			return err
		}
	}
	if len(segNames) == 0 {
		return fmt.Errorf("%w in %s", pserrors.ErrNoSegments, e.indexDir)
	}

	loaded := make([]*segment.Segment, 0, len(segNames))
	for _, name := range segNames {
		seg, err := segment.Open(filepath.Join(e.indexDir, "segments", name))
		if err != nil {
			for _, s := range loaded {
				s.Close()
			}
			return fmt.Errorf("loading segment %s: %w", name, err)
		}
		loaded = append(loaded, seg)
	}

	// Aggregate per-term df across segments for the autocomplete trie.
	termToScore := make(map[string]uint32, 1<<16)
	for _, seg := range loaded {
		for term, le := range seg.Lex {
			termToScore[term] += le.DF
		}
	}
	trie := suggest.Build(termToScore, suggest.MaxPerPrefix)

	csvPath := filepath.Join(e.indexDir, "metadata.csv")
	meta, err := metadata.Scan(csvPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			for _, s := range loaded {
				s.Close()
			}
			return err
		}
		// A freshly initialised index may not carry the corpus CSV yet;
		// hits are then served without metadata-backed fields.
		e.logger.Warn("metadata.csv not found, serving results without metadata", "path", csvPath)
		meta = metadata.Empty(csvPath)
	}

	sem := e.loadEmbeddings(loaded)

	// Swap in the new state and release the old handles.
	old := e.segments
	e.segNames = segNames
	e.segments = loaded
	e.trie = trie
	e.meta = meta
	e.sem = sem
	for _, s := range old {
		s.Close()
	}

	e.searchCache.Load()
	e.overviewCache.Load()
	e.summaryCache.Load()

	if e.metrics != nil {
		e.metrics.SegmentsLoaded.Set(float64(len(loaded)))
	}
	e.logger.Info("reload complete",
		"segments", len(loaded),
		"vocab", len(termToScore),
		"metadata_rows", len(meta.Rows),
		"semantic", sem.Enabled(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// loadEmbeddings loads word vectors for the current lexicon if a vector
// file is configured or discoverable. A missing file just disables
// expansion.
func (e *Engine) loadEmbeddings(segs []*segment.Segment) *semantic.Index {
	path := e.cfg.Semantic.EmbeddingsPath
	if path == "" {
		for _, cand := range []string{"embeddings.vec", "embeddings.txt", "glove.txt", "vectors.txt"} {
			p := filepath.Join(e.indexDir, cand)
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		return nil
	}

	needed := make(map[string]struct{}, 1<<16)
	for _, seg := range segs {
		for term := range seg.Lex {
			needed[term] = struct{}{}
		}
	}
	sem, err := semantic.Load(path, needed)
	if err != nil {
		e.logger.Warn("embeddings unavailable, semantic expansion disabled", "path", path, "error", err)
		return nil
	}
	return sem
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Search runs a cached BM25 search. k is clamped to [1, maxResults].
func (e *Engine) Search(query string, k int) (*SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	maxK := e.cfg.Search.MaxResults
	if maxK <= 0 {
		maxK = 100
	}
	K := clamp(k, 1, maxK)

	key := cache.SearchKey(query, K)
	if payload, ok := e.searchCache.Get(key); ok {
		var cached SearchResult
		if err := json.Unmarshal(payload, &cached); err == nil {
			cached.FromCache = true
			e.observeSearch("hit", len(cached.Results), start)
			e.recordSearchEvent(query, len(cached.Results), true)
			return &cached, nil
		}
		// An undecodable entry is treated as a miss and overwritten below.
		e.logger.Warn("dropping undecodable cache entry", "key", key)
	}

	out := &SearchResult{
		Query:    query,
		K:        K,
		Segments: len(e.segments),
		Results:  []SearchHit{},
	}

	baseTerms := tokenizer.IndexTerms(query)
	if len(baseTerms) == 0 || len(e.segments) == 0 {
		e.observeSearch("zero_result", 0, start)
		return out, nil
	}

	weighted := e.expandQuery(baseTerms)
	terms := make([]ranker.WeightedTerm, len(weighted))
	for i, wt := range weighted {
		terms[i] = ranker.WeightedTerm{Term: wt.Term, Weight: wt.Weight}
	}

	ranked, err := ranker.Rank(context.Background(), e.segments, terms, K, e.cfg.Search.ParallelSegments)
	if err != nil {
		e.observeSearch("error", 0, start)
		return nil, err
	}
	out.Found = ranked.TotalFound

	for _, h := range ranked.Hits {
		doc := e.segments[h.SegIdx].Docs[h.DocID]
		hit := SearchHit{
			Score:   h.Score,
			Segment: e.segNames[h.SegIdx],
			DocID:   h.DocID,
			UID:     doc.UID,
		}
		if ref, ok := e.meta.Lookup(doc.UID); ok {
			rec := e.meta.Fetch(ref)
			hit.Title = rec.Title
			hit.URL = rec.URL
			hit.PublishTime = rec.PublishTime
			hit.Author = rec.Author
		}
		out.Results = append(out.Results, hit)
	}

	if payload, err := json.Marshal(out); err == nil {
		e.searchCache.Put(key, payload)
	}

	outcome := "miss"
	if len(out.Results) == 0 {
		outcome = "zero_result"
	}
	e.observeSearch(outcome, len(out.Results), start)
	e.recordSearchEvent(query, len(out.Results), false)
	return out, nil
}

func (e *Engine) expandQuery(baseTerms []string) []semantic.WeightedTerm {
	p := semantic.Params{
		PerTerm:       e.cfg.Semantic.PerTerm,
		GlobalTopK:    e.cfg.Semantic.GlobalTopK,
		MinSimilarity: e.cfg.Semantic.MinSimilarity,
		Alpha:         e.cfg.Semantic.Alpha,
		MaxTotalTerms: e.cfg.Semantic.MaxTotalTerms,
	}
	return semantic.ExpandOrIdentity(e.sem, baseTerms, p)
}

func (e *Engine) observeSearch(outcome string, results int, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	status := "miss"
	if outcome == "hit" {
		status = "hit"
	}
	e.metrics.SearchLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	e.metrics.SearchResultsCount.Observe(float64(results))
	if outcome == "hit" {
		e.metrics.CacheHitsTotal.WithLabelValues("search").Inc()
	} else {
		e.metrics.CacheMissesTotal.WithLabelValues("search").Inc()
	}
}

func (e *Engine) recordSearchEvent(query string, results int, fromCache bool) {
	if e.events == nil {
		return
	}
	e.events.Record(events.Event{
		Type:      events.TypeSearch,
		Query:     query,
		Results:   results,
		FromCache: fromCache,
	})
}

// Suggest completes the last token of input from the autocomplete trie.
// limit is clamped to [1, 10].
func (e *Engine) Suggest(input string, limit int) *SuggestResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	maxL := e.cfg.Search.MaxSuggestions
	if maxL <= 0 || maxL > suggest.MaxPerPrefix {
		maxL = suggest.MaxPerPrefix
	}
	L := clamp(limit, 1, maxL)

	out := &SuggestResult{
		Query:       input,
		Limit:       L,
		Suggestions: []string{},
	}
	if !e.trie.Empty() {
		if s := e.trie.Suggest(input, L); s != nil {
			out.Suggestions = s
		}
	}
	if e.metrics != nil {
		e.metrics.SuggestQueriesTotal.Inc()
	}
	if e.events != nil {
		e.events.Record(events.Event{Type: events.TypeSuggest, Query: input, Results: len(out.Suggestions)})
	}
	return out
}

// AddDocument ingests one paper JSON as a new single-document segment and
// reloads the engine. The lock is held across both the build and the
// reload.
func (e *Engine) AddDocument(root, relPath, uid, title string) (*AddDocumentResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	segName, err := e.builder.AddDocument(root, relPath, uid, title)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Inc()
	}
	if e.events != nil {
		e.events.Record(events.Event{Type: events.TypeAddDocument, UID: uid})
	}

	res := &AddDocumentResult{OK: true, Segment: segName}
	if err := e.reloadLocked(); err != nil {
		e.logger.Error("reload after add failed", "segment", segName, "error", err)
		return res, err
	}
	res.Reloaded = true
	return res, nil
}

// OverviewFromCache returns a cached overview payload for (query, k). The
// bool reports whether it was present.
func (e *Engine) OverviewFromCache(query string, k int) (json.RawMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	payload, ok := e.overviewCache.Get(cache.SearchKey(query, k))
	e.observeAux("ai_overview", ok)
	return payload, ok
}

// PutOverview stores an overview payload for (query, k).
func (e *Engine) PutOverview(query string, k int, payload json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overviewCache.Put(cache.SearchKey(query, k), payload)
}

// SummaryFromCache returns a cached per-paper summary payload.
func (e *Engine) SummaryFromCache(uid string) (json.RawMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	payload, ok := e.summaryCache.Get(cache.SummaryKey(uid))
	e.observeAux("ai_summary", ok)
	return payload, ok
}

// PutSummary stores a per-paper summary payload.
func (e *Engine) PutSummary(uid string, payload json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.summaryCache.Put(cache.SummaryKey(uid), payload)
}

func (e *Engine) observeAux(name string, hit bool) {
	if e.metrics == nil {
		return
	}
	if hit {
		e.metrics.CacheHitsTotal.WithLabelValues(name).Inc()
	} else {
		e.metrics.CacheMissesTotal.WithLabelValues(name).Inc()
	}
}

// SegmentCount returns the number of loaded segments.
func (e *Engine) SegmentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.segments)
}

// Close flushes the caches and releases segment file handles.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.searchCache.Flush()
	e.overviewCache.Flush()
	e.summaryCache.Flush()
	for _, s := range e.segments {
		s.Close()
	}
	e.segments = nil
	e.logger.Info("engine closed, caches flushed")
}
