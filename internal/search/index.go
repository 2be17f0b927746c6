// Package search provides a deterministic, concurrency-safe in-memory index
// over published mods. Each mod contributes one document built from its
// title, short description, description and tags.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options for stop words and document caps
//   - Unicode-aware tokenization with Latin diacritics folded
//   - Immutable index after construction; Holder swaps whole indexes atomically
//   - Deterministic scoring and sorting (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// document's token set: score = |Q ∩ D| / |Q ∪ D|.
package search

import (
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/vnmodhub/modhub/internal/domain"
)

// Document is the searchable text of one mod.
type Document struct {
	ModID uint
	Text  string
}

// Result is a ranked mod id with its similarity score.
type Result struct {
	ModID uint    `json:"mod_id"`
	Score float64 `json:"score"`
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
	Len() int
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	maxDocs   int
}

func defaultConfig() config {
	return config{
		stopwords: nil,
		maxDocs:   0,
	}
}

// WithStopwords drops the given words from documents and queries.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = domain.FoldLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps how many documents are indexed.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// DefaultStopwords are common English function words.
var DefaultStopwords = []string{"a", "an", "and", "the", "of", "to", "in", "for", "on", "with", "is", "it", "this", "that"}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	id     uint
	tokens map[string]struct{}
	tLen   int
}

type index struct {
	cfg  config
	docs []doc
}

// DocumentFor renders the searchable text of a mod.
func DocumentFor(m domain.Mod) Document {
	parts := []string{m.Title, m.ShortDescription, m.Description}
	parts = append(parts, m.Tags...)
	return Document{ModID: m.ID, Text: strings.Join(parts, " ")}
}

// New builds an Index from documents. Documents without tokens are skipped.
func New(docs []Document, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	out := make([]doc, 0, len(docs))
	for _, d := range docs {
		toks := tokenize(d.Text, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		out = append(out, doc{id: d.ModID, tokens: toks, tLen: len(toks)})
		if cfg.maxDocs > 0 && len(out) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: out}
}

func (i *index) Len() int { return len(i.docs) }

// TopK returns up to k best-matching mods by Jaccard similarity. Ties are
// broken by the smaller document, then by the lower mod id.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 {
		return nil
	}
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 10
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		id    uint
		score float64
		size  int
	}

	buf := make([]scored, 0, min(k*4, len(i.docs)))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(qLen + d.tLen - over)
		if union <= 0 {
			continue
		}
		buf = append(buf, scored{id: d.id, score: float64(over) / union, size: d.tLen})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].size != buf[b].size {
			return buf[a].size < buf[b].size
		}
		return buf[a].id < buf[b].id
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for j := 0; j < k; j++ {
		out[j] = Result{ModID: buf[j].id, Score: buf[j].score}
	}
	return out
}

// ----------------------------------------------------------------------------
// Holder

// Holder publishes the current index to concurrent readers. Rebuilds create
// a fresh index and Swap it in; readers never see a partial build.
type Holder struct {
	cur atomic.Pointer[Index]
}

// NewHolder returns a Holder serving an empty index.
func NewHolder() *Holder {
	h := &Holder{}
	h.Swap(New(nil))
	return h
}

// Swap replaces the served index.
func (h *Holder) Swap(idx Index) {
	h.cur.Store(&idx)
}

// Current returns the served index.
func (h *Holder) Current() Index {
	if p := h.cur.Load(); p != nil {
		return *p
	}
	return New(nil)
}

// TopK queries the served index.
func (h *Holder) TopK(q string, k int) []Result { return h.Current().TopK(q, k) }

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(domain.FoldLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
