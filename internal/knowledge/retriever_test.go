package knowledge

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsight/ds-analyzer/internal/models"
)

func testCorpus() *Corpus {
	return NewCorpus([]models.KnowledgeChunk{
		{SourceID: "hb", SectionTitle: "Heartbeat failures", Text: "When the agent heartbeat fails check port 4120 connectivity to the manager.", Keywords: []string{"heartbeat", "connectivity"}},
		{SourceID: "hb", SectionTitle: "Heartbeat interval", Text: "The heartbeat interval is configured in the policy."},
		{SourceID: "amsp", SectionTitle: "Anti-malware engine", Text: "AMSP fails to start when pattern files are corrupt.", Keywords: []string{"amsp"}},
		{SourceID: "fw", SectionTitle: "Firewall", Text: "Firewall rules are evaluated in priority order."},
		{SourceID: "misc", SectionTitle: "Misc", Text: "Unrelated content about licensing."},
	})
}

func TestRetrieveRanksAndDedupes(t *testing.T) {
	r := NewRetriever(testCorpus(), Options{MaxResults: 6, MinRelevance: 0.1})
	results := r.Retrieve("agent heartbeat connectivity", r.Corpus())

	require.NotEmpty(t, results)
	assert.Equal(t, "hb", results[0].Chunk.SourceID)
	assert.Equal(t, "Heartbeat failures", results[0].Chunk.SectionTitle)

	sources := map[string]int{}
	for _, res := range results {
		sources[res.Chunk.SourceID]++
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 1.0)
	}
	for source, count := range sources {
		assert.Equal(t, 1, count, source)
	}
	assert.True(t, sort.SliceIsSorted(results, func(i, j int) bool { return results[i].Score > results[j].Score }))
}

func TestRetrieveRespectsBounds(t *testing.T) {
	r := NewRetriever(testCorpus(), Options{MaxResults: 1})
	results := r.Retrieve("heartbeat amsp firewall", r.Corpus())
	assert.Len(t, results, 1)

	strict := NewRetriever(testCorpus(), Options{MinRelevance: 0.99})
	assert.Empty(t, strict.Retrieve("heartbeat licensing policy", strict.Corpus()))
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	r := NewRetriever(NewCorpus(nil), Options{})
	results := r.Retrieve("any query", NewCorpus([]models.KnowledgeChunk{}))
	require.NotNil(t, results)
	assert.Empty(t, results)
	assert.Empty(t, r.Search([]string{"any query"}))
}

func TestRetrieveTiesKeepCorpusOrder(t *testing.T) {
	corpus := NewCorpus([]models.KnowledgeChunk{
		{SourceID: "b", Text: "relay update"},
		{SourceID: "a", Text: "relay update"},
	})
	r := NewRetriever(corpus, Options{})
	results := r.Retrieve("relay", corpus)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].Chunk.SourceID)
	assert.Equal(t, "a", results[1].Chunk.SourceID)
}

func TestSearchMergesQueries(t *testing.T) {
	r := NewRetriever(testCorpus(), Options{})
	results := r.Search([]string{"heartbeat", "amsp pattern"})
	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.Chunk.SourceID)
	}
	assert.Contains(t, ids, "hb")
	assert.Contains(t, ids, "amsp")
}

func TestGenerateQueriesFallback(t *testing.T) {
	r := NewRetriever(nil, DefaultOptions())
	queries := r.GenerateQueries(QueryContext{
		Components: []models.ComponentHealth{{Component: "dsa.Heartbeat", Status: models.StatusHealthy, HealthScore: 100}},
	})
	assert.Equal(t, []string{"Deep Security Agent troubleshooting guide"}, queries)
	assert.Equal(t, queries, r.GenerateQueries(QueryContext{}))
}

func TestGenerateQueriesPriorityAndBound(t *testing.T) {
	r := NewRetriever(nil, Options{MaxQueries: 4})
	queries := r.GenerateQueries(QueryContext{
		Anomalies: []AnomalySignal{
			{Component: "dsa.Heartbeat", Severity: models.SeverityHigh, Message: "Heartbeat failed: connection refused"},
			{Component: "AMSP", Severity: models.SeverityCritical, Message: "Scan engine crash 0x1"},
			{Component: "dsa.Heartbeat", Severity: models.SeverityHigh, Message: "Heartbeat failed: connection refused"},
		},
		Components: []models.ComponentHealth{
			{Component: "AMSP", Category: models.CategoryAntiMalware, Status: models.StatusFailed},
			{Component: "dsa.Heartbeat", Category: models.CategoryConnectivity, Status: models.StatusHealthy},
		},
		ErrorTypes: []string{"AMSP_SCAN_FAILED", "AMSP_SCAN_FAILED", "E_OTHER"},
	})

	require.Len(t, queries, 4)
	assert.Equal(t, "Deep Security AMSP scan engine crash 0x1", queries[0])
	assert.Equal(t, "Deep Security dsa.Heartbeat heartbeat failed connection refused", queries[1])
	assert.Equal(t, "Deep Security AMSP anti-malware failed", queries[2])
	assert.Equal(t, "Deep Security error AMSP_SCAN_FAILED", queries[3])
}
