package knowledge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/logsight/ds-analyzer/internal/models"
)

// ErrCorpusCorrupt is returned when a corpus file exists but cannot be decoded.
var ErrCorpusCorrupt = errors.New("knowledge corpus corrupt")

// Corpus is the immutable chunk collection shared by every analysis run.
type Corpus struct {
	chunks []models.KnowledgeChunk
}

// NewCorpus precomputes tokens and insertion order for chunks. Chunks without
// text are skipped; a missing source_id is replaced by its position.
func NewCorpus(chunks []models.KnowledgeChunk) *Corpus {
	prepared := make([]models.KnowledgeChunk, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		if c.SourceID == "" {
			c.SourceID = fmt.Sprintf("chunk-%d", len(prepared))
		}
		c.Keywords = normalizeKeywords(c.Keywords)
		c.Tokens = tokenSet(c.Text)
		c.TitleTokens = tokenSet(c.SectionTitle)
		c.Order = len(prepared)
		prepared = append(prepared, c)
	}
	return &Corpus{chunks: prepared}
}

// Len reports the number of chunks; a nil corpus is empty.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.chunks)
}

// Chunks exposes the chunk slice. Callers must treat it as read-only.
func (c *Corpus) Chunks() []models.KnowledgeChunk {
	if c == nil {
		return nil
	}
	return c.chunks
}

type corpusFile struct {
	Chunks []models.KnowledgeChunk `json:"chunks" yaml:"chunks"`
}

// LoadCorpus reads a YAML or JSON corpus. An empty path or missing file
// yields an empty corpus; undecodable content wraps ErrCorpusCorrupt.
func LoadCorpus(path string) (*Corpus, error) {
	if path == "" {
		return NewCorpus(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewCorpus(nil), nil
		}
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	chunks, err := decodeCorpus(path, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorpusCorrupt, path, err)
	}
	return NewCorpus(chunks), nil
}

func decodeCorpus(path string, data []byte) ([]models.KnowledgeChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || trimmed[0] == '[' || trimmed[0] == '{' {
		var list []models.KnowledgeChunk
		if trimmed[0] == '[' {
			err := json.Unmarshal(trimmed, &list)
			return list, err
		}
		var wrapped corpusFile
		err := json.Unmarshal(trimmed, &wrapped)
		return wrapped.Chunks, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(trimmed, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	if node.Content[0].Kind == yaml.SequenceNode {
		var list []models.KnowledgeChunk
		err := node.Decode(&list)
		return list, err
	}
	var wrapped corpusFile
	err := node.Decode(&wrapped)
	return wrapped.Chunks, err
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {}, "this": {},
	"are": {}, "was": {}, "has": {}, "have": {}, "not": {}, "but": {}, "you": {},
	"your": {}, "can": {}, "into": {}, "when": {}, "then": {}, "than": {}, "its": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "is": {}, "be": {}, "by": {},
	"or": {}, "an": {}, "as": {}, "it": {}, "if": {},
}

// Tokenize lowercases text and splits it into significant terms. Underscores
// are kept so error codes stay whole.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := map[string]struct{}{}
	for _, kw := range keywords {
		for _, t := range Tokenize(kw) {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
