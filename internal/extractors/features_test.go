package extractors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsight/ds-analyzer/internal/models"
)

func TestExtractHeartbeatFeatures(t *testing.T) {
	rec := newTestNormalizer().ParseLine(heartbeatLine)
	vec := NewFeatureExtractor().Extract(rec)

	assert.True(t, vec.IsHeartbeat)
	assert.True(t, vec.IsCommand)
	assert.False(t, vec.HasErrorKeyword)
	assert.False(t, vec.HasTimeout)
	assert.Equal(t, len("Heartbeat sent"), vec.MessageLength)
	assert.Equal(t, 2, vec.TokenCount)
	assert.Equal(t, 0, vec.SeverityRank)
	assert.Equal(t, models.CategoryConnectivity, vec.ComponentCategory)
}

func TestExtractErrorFeatures(t *testing.T) {
	rec := models.LogRecord{
		Component:          "AMSP",
		NormalizedSeverity: models.LevelCritical,
		Message:            "Request to https://dsm.example:4119 timed out, error AMSP_SCAN_FAILED; McAfee driver present",
	}
	vec := NewFeatureExtractor().Extract(rec)

	assert.True(t, vec.HasHTTP)
	assert.True(t, vec.HasTimeout)
	assert.True(t, vec.HasErrorKeyword)
	assert.True(t, vec.HasErrorCode)
	assert.True(t, vec.MentionsThirdParty)
	assert.Equal(t, 3, vec.SeverityRank)
	assert.Equal(t, models.CategoryAntiMalware, vec.ComponentCategory)
}

func TestExtractFixedWidth(t *testing.T) {
	vectors := NewFeatureExtractor().ExtractAll([]models.LogRecord{
		{Component: models.UnknownComponent, NormalizedSeverity: models.LevelInfo, Message: "x"},
		{Component: "dsa.Heartbeat", NormalizedSeverity: models.LevelError, Message: "Heartbeat failed: connection refused"},
	})
	require.Len(t, vectors, 2)
	for _, vec := range vectors {
		assert.Len(t, vec.Numeric(), len(models.FeatureNames))
		assert.Len(t, vec.Map(), len(models.FeatureNames))
	}
	assert.Equal(t, models.CategoryOther, vectors[0].ComponentCategory)
	assert.True(t, vectors[1].HasConnectionIssue)
}

func TestCategorize(t *testing.T) {
	cases := map[string]models.ComponentCategory{
		"dsa.Heartbeat":     models.CategoryConnectivity,
		"Cmd":               models.CategoryCommand,
		"AMSP":              models.CategoryAntiMalware,
		"ds_am":             models.CategoryAntiMalware,
		"dsa.Firewall":      models.CategoryNetworkSecurity,
		"IntegrityMonitor":  models.CategoryIntegrity,
		"dsa.PluginManager": models.CategoryOther,
		"":                  models.CategoryOther,
	}
	for component, want := range cases {
		assert.Equal(t, want, Categorize(component), component)
	}
}

func TestErrorCodesDistinct(t *testing.T) {
	codes := ErrorCodes("AMSP_FUNC_NOT_SUPPORT then AMSP_FUNC_NOT_SUPPORT and 0x80070005")
	assert.Equal(t, []string{"AMSP_FUNC_NOT_SUPPORT", "0x80070005"}, codes)
}

func TestThirdPartyProducts(t *testing.T) {
	got := ThirdPartyProducts("Conflict detected with McAfee VirusScan and Windows Defender real-time protection")
	assert.Equal(t, []string{"mcafee", "windows defender"}, got)
	assert.Empty(t, ThirdPartyProducts("Heartbeat sent"))
}
