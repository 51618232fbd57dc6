// Package tokenizer provides text tokenisation for the search engine. It
// emits maximal runs of ASCII letters and digits, lowercased; every other
// byte is a separator. Stop-word removal and the minimum-length filter are
// applied by IndexTerms so that raw Tokenize stays position-independent and
// reusable for prefix splitting.
package tokenizer

// MinTokenLen is the minimum length a term must have to be indexed or
// queried.
const MinTokenLen = 2

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {},
	"to": {}, "in": {}, "for": {}, "on": {}, "with": {}, "by": {},
	"as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "it": {}, "this": {}, "that": {}, "from": {}, "at": {},
}

// IsStopWord reports whether t is in the static stop-word set.
func IsStopWord(t string) bool {
	_, ok := stopWords[t]
	return ok
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// Tokenize splits text into lowercase alphanumeric runs. It performs no
// stop-word or length filtering.
func Tokenize(text string) []string {
	out := make([]string, 0, len(text)/6)
	cur := make([]byte, 0, 32)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if isAlnum(c) {
			cur = append(cur, toLower(c))
			continue
		}
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

// IndexTerms tokenizes text and drops stop-words and tokens shorter than
// MinTokenLen. Both the builder and the query path use this form.
func IndexTerms(text string) []string {
	toks := Tokenize(text)
	terms := toks[:0]
	for _, t := range toks {
		if len(t) < MinTokenLen {
			continue
		}
		if IsStopWord(t) {
			continue
		}
		terms = append(terms, t)
	}
	return terms
}

// TermFreq pairs a distinct term with its frequency in one document.
type TermFreq struct {
	Term string
	TF   uint32
}

// TermFrequencies tokenizes and filters text, returning per-term counts in
// first-appearance order and the document length (the sum of all counts).
// The ordering is what makes per-segment term-id assignment deterministic.
func TermFrequencies(text string) ([]TermFreq, uint32) {
	seen := make(map[string]int)
	var out []TermFreq
	var docLen uint32
	for _, t := range IndexTerms(text) {
		if i, ok := seen[t]; ok {
			out[i].TF++
		} else {
			seen[t] = len(out)
			out = append(out, TermFreq{Term: t, TF: 1})
		}
		docLen++
	}
	return out, docLen
}

// Normalize keeps only the lowercase alphanumeric bytes of s. The
// autocomplete index uses it to canonicalise terms and prefixes.
func Normalize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if isAlnum(s[i]) {
			out = append(out, toLower(s[i]))
		}
	}
	return string(out)
}
