package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/clue/log"
)

func TestKVSliceToClueExtractsError(t *testing.T) {
	boom := errors.New("boom")
	fielders, err := kvSliceToClue("failed", []any{"err", boom, "tool", "gmail_search", 42, "skipped", "dangling"})
	require.Equal(t, boom, err)
	require.Equal(t, []log.Fielder{
		log.KV{K: "msg", V: "failed"},
		log.KV{K: "tool", V: "gmail_search"},
		log.KV{K: "dangling", V: nil},
	}, fielders)
}

func TestTagsToAttrsPadsOddTags(t *testing.T) {
	attrs := tagsToAttrs([]string{"connection", "github", "outcome"})
	require.Len(t, attrs, 2)
	require.Equal(t, "github", attrs[0].Value.AsString())
	require.Equal(t, "", attrs[1].Value.AsString())
}

func TestSetWithDefaults(t *testing.T) {
	s := Set{}.WithDefaults()
	require.NotNil(t, s.Logger)
	require.NotNil(t, s.Metrics)
	require.NotNil(t, s.Tracer)
	ctx, span := s.Tracer.Start(t.Context(), "x")
	require.NotNil(t, ctx)
	span.End()
}

func TestCredentialKeysAreRedacted(t *testing.T) {
	fielders, _ := kvSliceToClue("exchange", []any{
		"connection", "github",
		"access_token", "gho_secret",
		"Refresh_Token", "rt",
		"authorization", "Bearer x",
		"client_secret", "s",
	})
	require.Equal(t, []log.Fielder{
		log.KV{K: "msg", V: "exchange"},
		log.KV{K: "connection", V: "github"},
		log.KV{K: "access_token", V: redacted},
		log.KV{K: "Refresh_Token", V: redacted},
		log.KV{K: "authorization", V: redacted},
		log.KV{K: "client_secret", V: redacted},
	}, fielders)

	attrs := kvSliceToAttrs([]any{"subject_token", "abc", "tool", "shop_online"})
	require.Equal(t, redacted, attrs[0].Value.AsString())
	require.Equal(t, "shop_online", attrs[1].Value.AsString())
}

func TestClueMetricsReusesInstruments(t *testing.T) {
	m := NewClueMetrics().(*ClueMetrics)
	m.IncCounter("gate.outcome", 1, "outcome", "ok")
	m.IncCounter("gate.outcome", 1, "outcome", "failed")
	m.RecordTimer("credential.resolve", 0)
	_, ok := m.counters.Load("gate.outcome")
	require.True(t, ok)
	_, ok = m.histograms.Load("credential.resolve")
	require.True(t, ok)
}
