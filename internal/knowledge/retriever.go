package knowledge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/logsight/ds-analyzer/internal/models"
)

// Per-token hit weights by where the token was found.
const (
	keywordHit = 1.0
	titleHit   = 0.8
	textHit    = 0.6
)

// Options bounds query generation and retrieval.
type Options struct {
	Product      string
	MaxQueries   int
	MaxResults   int
	MinRelevance float64
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{Product: "Deep Security", MaxQueries: 5, MaxResults: 6, MinRelevance: 0.15}
}

// AnomalySignal is one anomalous record summarised for query generation.
type AnomalySignal struct {
	Component string
	Severity  models.Severity
	Message   string
	ClusterID string
}

// QueryContext carries the run signals queries are generated from.
type QueryContext struct {
	Kind       models.AnalyzerKind
	Anomalies  []AnomalySignal
	Components []models.ComponentHealth
	ErrorTypes []string
}

// Retriever generates queries and ranks chunks of a shared corpus.
type Retriever struct {
	corpus *Corpus
	opts   Options
}

// NewRetriever constructs a Retriever; a nil corpus behaves as empty.
func NewRetriever(corpus *Corpus, opts Options) *Retriever {
	def := DefaultOptions()
	if opts.Product == "" {
		opts.Product = def.Product
	}
	if opts.MaxQueries <= 0 {
		opts.MaxQueries = def.MaxQueries
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = def.MaxResults
	}
	if opts.MinRelevance < 0 {
		opts.MinRelevance = 0
	}
	return &Retriever{corpus: corpus, opts: opts}
}

// Corpus returns the retriever's corpus, possibly nil.
func (r *Retriever) Corpus() *Corpus { return r.corpus }

// FallbackQuery is issued when no other signal produced a query.
func (r *Retriever) FallbackQuery() string {
	return r.opts.Product + " Agent troubleshooting guide"
}

// GenerateQueries returns at most MaxQueries distinct queries, most specific
// first: anomalies, unhealthy components, error types, then the fallback.
func (r *Retriever) GenerateQueries(qc QueryContext) []string {
	var queries []string
	seen := map[string]struct{}{}
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" || len(queries) >= r.opts.MaxQueries {
			return
		}
		key := strings.ToLower(q)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		queries = append(queries, q)
	}

	anomalies := append([]AnomalySignal(nil), qc.Anomalies...)
	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Severity.Rank() > anomalies[j].Severity.Rank()
	})
	for _, a := range anomalies {
		add(fmt.Sprintf("%s %s %s", r.opts.Product, a.Component, keyPhrase(a.Message, 6)))
	}

	for _, h := range qc.Components {
		if h.Status == models.StatusHealthy || h.Status == "" {
			continue
		}
		add(fmt.Sprintf("%s %s %s %s", r.opts.Product, h.Component, h.Category, h.Status))
	}

	for _, code := range qc.ErrorTypes {
		add(fmt.Sprintf("%s error %s", r.opts.Product, code))
	}

	if len(queries) == 0 {
		add(r.FallbackQuery())
	}
	return queries
}

// Retrieve ranks corpus chunks against one query. Scores lie in [0,1];
// results are sorted descending with ties in corpus order, deduplicated by
// source_id and capped at MaxResults. An empty corpus yields an empty slice.
func (r *Retriever) Retrieve(query string, corpus *Corpus) []models.RetrievalResult {
	return r.rank(r.scoreAll(query, corpus))
}

// Search runs every query against the retriever's corpus and merges the hits,
// keeping each source's best score.
func (r *Retriever) Search(queries []string) []models.RetrievalResult {
	var all []models.RetrievalResult
	for _, q := range queries {
		all = append(all, r.scoreAll(q, r.corpus)...)
	}
	return r.rank(all)
}

func (r *Retriever) scoreAll(query string, corpus *Corpus) []models.RetrievalResult {
	tokens := uniqueTokens(Tokenize(query))
	if corpus.Len() == 0 || len(tokens) == 0 {
		return nil
	}
	var out []models.RetrievalResult
	for _, chunk := range corpus.Chunks() {
		score := scoreChunk(tokens, chunk)
		if score <= 0 || score < r.opts.MinRelevance {
			continue
		}
		out = append(out, models.RetrievalResult{Chunk: chunk, Score: score, Query: query})
	}
	return out
}

func (r *Retriever) rank(results []models.RetrievalResult) []models.RetrievalResult {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Order < results[j].Chunk.Order
	})
	out := make([]models.RetrievalResult, 0, min(len(results), r.opts.MaxResults))
	seen := map[string]struct{}{}
	for _, res := range results {
		if _, dup := seen[res.Chunk.SourceID]; dup {
			continue
		}
		seen[res.Chunk.SourceID] = struct{}{}
		out = append(out, res)
		if len(out) >= r.opts.MaxResults {
			break
		}
	}
	return out
}

func scoreChunk(tokens []string, chunk models.KnowledgeChunk) float64 {
	total := 0.0
	for _, tok := range tokens {
		switch {
		case containsString(chunk.Keywords, tok):
			total += keywordHit
		case has(chunk.TitleTokens, tok):
			total += titleHit
		case has(chunk.Tokens, tok):
			total += textHit
		}
	}
	return total / float64(len(tokens))
}

func keyPhrase(message string, limit int) string {
	var words []string
	for _, tok := range Tokenize(message) {
		if strings.IndexFunc(tok, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
			continue
		}
		words = append(words, tok)
		if len(words) == limit {
			break
		}
	}
	return strings.Join(words, " ")
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func has(set map[string]struct{}, tok string) bool {
	_, ok := set[tok]
	return ok
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
