package knowledge

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCorpusYAMLList(t *testing.T) {
	path := writeFile(t, "corpus.yaml", `
- source_id: ds-guide-p12
  section_title: Heartbeat troubleshooting
  text: The agent sends a heartbeat to the manager on port 4120.
  keywords: [heartbeat, "port 4120"]
- source_id: ""
  section_title: Empty
  text: "   "
- section_title: Anti-malware engine
  text: AMSP loads pattern files at service start.
`)
	corpus, err := LoadCorpus(path)
	require.NoError(t, err)
	require.Equal(t, 2, corpus.Len())

	first := corpus.Chunks()[0]
	assert.Equal(t, "ds-guide-p12", first.SourceID)
	assert.Equal(t, []string{"heartbeat", "port", "4120"}, first.Keywords)
	assert.Contains(t, first.Tokens, "manager")
	assert.Contains(t, first.TitleTokens, "troubleshooting")
	assert.Equal(t, 0, first.Order)

	second := corpus.Chunks()[1]
	assert.Equal(t, "chunk-1", second.SourceID)
	assert.Equal(t, 1, second.Order)
}

func TestLoadCorpusJSONWrapped(t *testing.T) {
	path := writeFile(t, "corpus.json", `{"chunks":[{"source_id":"a","section_title":"T","text":"firewall rules"}]}`)
	corpus, err := LoadCorpus(path)
	require.NoError(t, err)
	assert.Equal(t, 1, corpus.Len())
}

func TestLoadCorpusMissingIsEmpty(t *testing.T) {
	corpus, err := LoadCorpus(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 0, corpus.Len())

	corpus, err = LoadCorpus("")
	require.NoError(t, err)
	assert.Equal(t, 0, corpus.Len())
}

func TestLoadCorpusCorrupt(t *testing.T) {
	path := writeFile(t, "corpus.json", `[{"source_id": 12`)
	_, err := LoadCorpus(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorpusCorrupt))
}

func TestTokenizeKeepsErrorCodes(t *testing.T) {
	assert.Equal(t, []string{"amsp_func_not_support", "returned", "agent"}, Tokenize("AMSP_FUNC_NOT_SUPPORT returned to the agent"))
}

func TestNilCorpus(t *testing.T) {
	var c *Corpus
	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.Chunks())
	assert.Empty(t, NewRetriever(nil, Options{}).Retrieve("heartbeat", c))
}

func TestLoadSampleCorpus(t *testing.T) {
	corpus, err := LoadCorpus(filepath.Join("..", "..", "configs", "knowledge.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4, corpus.Len())
}
