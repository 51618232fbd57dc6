// Package suggest builds a prefix trie over the index vocabulary for
// query autocompletion. Each node keeps a bounded top list of candidate
// terms ranked by aggregated document frequency.
package suggest

import (
	"sort"

	"github.com/corpusnext/papersearch/internal/index/tokenizer"
)

// MaxPerPrefix bounds the candidate list kept at each trie node.
const MaxPerPrefix = 10

type candidate struct {
	termIdx uint32
	score   uint32
}

type node struct {
	next map[byte]uint32
	top  []candidate
}

// Trie is the autocomplete index. Build it once per reload; lookups are
// read-only.
type Trie struct {
	nodes  []node
	terms  []string
	scores []uint32
	maxTop int
}

// Empty reports whether the trie has no terms.
func (t *Trie) Empty() bool {
	return t == nil || len(t.terms) == 0
}

// Build constructs the trie from a term → aggregated-df map. Terms are
// normalised to lowercase alphanumerics and dropped when shorter than two
// characters. Insertion happens in descending (score, term) order so every
// node's top list stays correctly ranked under simple deduplicating
// insertion.
func Build(termToScore map[string]uint32, maxPerPrefix int) *Trie {
	t := &Trie{maxTop: maxPerPrefix}
	if t.maxTop < 1 {
		t.maxTop = 1
	}

	t.terms = make([]string, 0, len(termToScore))
	t.scores = make([]uint32, 0, len(termToScore))
	for term, score := range termToScore {
		norm := tokenizer.Normalize(term)
		if len(norm) < tokenizer.MinTokenLen {
			continue
		}
		t.terms = append(t.terms, norm)
		t.scores = append(t.scores, score)
	}

	order := make([]uint32, len(t.terms))
	for i := range order {
		order[i] = uint32(i)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if t.scores[a] != t.scores[b] {
			return t.scores[a] > t.scores[b]
		}
		return t.terms[a] < t.terms[b]
	})

	terms := make([]string, len(order))
	scores := make([]uint32, len(order))
	for i, idx := range order {
		terms[i] = t.terms[idx]
		scores[i] = t.scores[idx]
	}
	t.terms = terms
	t.scores = scores

	t.nodes = make([]node, 1, 1+len(t.terms)*2)
	for i := range t.terms {
		t.insert(uint32(i))
	}
	return t
}

func (t *Trie) insert(termIdx uint32) {
	term := t.terms[termIdx]
	score := t.scores[termIdx]

	cur := uint32(0)
	t.updateTop(cur, candidate{termIdx: termIdx, score: score})
	for i := 0; i < len(term); i++ {
		c := term[i]
		child, ok := t.nodes[cur].next[c]
		if !ok {
			child = uint32(len(t.nodes))
			t.nodes = append(t.nodes, node{})
			if t.nodes[cur].next == nil {
				t.nodes[cur].next = make(map[byte]uint32)
			}
			t.nodes[cur].next[c] = child
		}
		cur = child
		t.updateTop(cur, candidate{termIdx: termIdx, score: score})
	}
}

// updateTop inserts c into the node's top list, deduplicating by term and
// keeping the list sorted by (score desc, term asc) and bounded.
func (t *Trie) updateTop(nodeIdx uint32, c candidate) {
	top := t.nodes[nodeIdx].top
	for i := range top {
		if top[i].termIdx == c.termIdx {
			if c.score > top[i].score {
				top[i].score = c.score
			}
			t.sortAndTrim(nodeIdx)
			return
		}
	}
	t.nodes[nodeIdx].top = append(top, c)
	t.sortAndTrim(nodeIdx)
}

func (t *Trie) sortAndTrim(nodeIdx uint32) {
	top := t.nodes[nodeIdx].top
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].score != top[j].score {
			return top[i].score > top[j].score
		}
		return t.terms[top[i].termIdx] < t.terms[top[j].termIdx]
	})
	if len(top) > t.maxTop {
		top = top[:t.maxTop]
	}
	t.nodes[nodeIdx].top = top
}

func (t *Trie) lookup(prefix string) (uint32, bool) {
	cur := uint32(0)
	for i := 0; i < len(prefix); i++ {
		child, ok := t.nodes[cur].next[prefix[i]]
		if !ok {
			return 0, false
		}
		cur = child
	}
	return cur, true
}

// Suggest completes the last token of userInput. Everything before the
// last alphanumeric run is echoed verbatim in front of each candidate.
// At most limit suggestions are returned.
func (t *Trie) Suggest(userInput string, limit int) []string {
	if t.Empty() || limit <= 0 {
		return nil
	}

	// Find the last alphanumeric run: [start, end).
	isAlnum := func(c byte) bool {
		return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	end := len(userInput)
	for end > 0 && !isAlnum(userInput[end-1]) {
		end--
	}
	start := end
	for start > 0 && isAlnum(userInput[start-1]) {
		start--
	}

	base := userInput[:start]
	prefix := tokenizer.Normalize(userInput[start:end])
	if prefix == "" {
		return nil
	}

	nodeIdx, ok := t.lookup(prefix)
	if !ok {
		return nil
	}

	top := t.nodes[nodeIdx].top
	n := limit
	if n > len(top) {
		n = len(top)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, base+t.terms[top[i].termIdx])
	}
	return out
}
