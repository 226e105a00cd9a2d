package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf).WithFields(Fields{"campaign_id": 7, "keyword": "ps5"})

	log.Info().Msg("cycle started")

	out := buf.String()
	assert.Contains(t, out, `"campaign_id":7`)
	assert.Contains(t, out, `"keyword":"ps5"`)
	assert.Contains(t, out, `"message":"cycle started"`)
}

func TestInitFeedsSinks(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	var sink bytes.Buffer
	Init(&sink)
	defer func() { Default = nil }()

	ForFetcher().Warn().Msg("slow page")
	LogError("storage", errors.New("boom"), "save failed for %d", 3)

	out := sink.String()
	assert.Contains(t, out, `"component":"fetcher"`)
	assert.Contains(t, out, `"message":"slow page"`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, "save failed for 3")
}

func TestForOrchestratorCarriesCampaign(t *testing.T) {
	var sink bytes.Buffer
	Init(&sink)
	defer func() { Default = nil }()

	ForOrchestrator(42).Info().Msg("done")
	assert.Contains(t, sink.String(), `"campaign_id":42`)
	assert.Contains(t, sink.String(), `"component":"orchestrator"`)
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Error().Msg("ignored")
	})
}
