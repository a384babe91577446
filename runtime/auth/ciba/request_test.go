package ciba

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestResolveOnlyFromPending(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req := Request{ID: "r1", Status: StatusPending}

	approved, err := req.Resolve(StatusApproved, now)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ResolvedAt)
	require.True(t, approved.Terminal())

	_, err = approved.Resolve(StatusDenied, now)
	require.ErrorIs(t, err, ErrNotPending)

	_, err = req.Resolve(StatusPending, now)
	require.Error(t, err)
}

func TestRequestConsumeOnce(t *testing.T) {
	now := time.Now()
	_, err := Request{Status: StatusPending}.Consume(now)
	require.ErrorIs(t, err, ErrNotApproved)

	req := Request{Status: StatusApproved}
	consumed, err := req.Consume(now)
	require.NoError(t, err)
	require.True(t, consumed.Consumed)

	_, err = consumed.Consume(now)
	require.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestRequestExpiredAt(t *testing.T) {
	now := time.Now()
	req := Request{Status: StatusPending, ExpiresAt: now}
	require.True(t, req.ExpiredAt(now))
	require.False(t, req.ExpiredAt(now.Add(-time.Second)))
	req.Status = StatusApproved
	require.False(t, req.ExpiredAt(now.Add(time.Hour)))
}

func TestBindingTemplate(t *testing.T) {
	b := MustParseBindingTemplate("shop", "Do you want to buy {{.qty}} {{.product}}")

	msg, err := b.Render(map[string]any{"qty": 2, "product": "Pixel 9 (Pro)!"})
	require.NoError(t, err)
	require.Equal(t, "Do you want to buy 2 Pixel 9 Pro", msg)

	_, err = b.Render(map[string]any{"qty": 2})
	require.Error(t, err)

	_, err = ParseBindingTemplate("bad", "{{.qty")
	require.Error(t, err)
}

func TestSanitizeBindingMessageCapsLength(t *testing.T) {
	long := "buy aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	out := SanitizeBindingMessage(long)
	require.LessOrEqual(t, len(out), maxBindingMessage)
	require.Equal(t, "a: b#c", SanitizeBindingMessage("  a:\n b#c <>"))
}
