package toolerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string { return fmt.Sprintf("status %d", e.code) }

func TestFromErrorKeepsTypedCause(t *testing.T) {
	base := &statusErr{code: 403}
	err := fmt.Errorf("list repos: %w", base)

	te := FromError(err)
	require.Equal(t, "list repos: status 403", te.Message)
	require.Equal(t, "status 403", te.Cause.Message)

	var se *statusErr
	require.ErrorAs(t, te, &se)
	require.Equal(t, 403, se.code)
}

func TestWrapAndHint(t *testing.T) {
	sentinel := errors.New("boom")
	te := Wrap("search failed", sentinel).WithHint("Try a shorter query.")
	require.ErrorIs(t, te, sentinel)
	require.Equal(t, "search failed Try a shorter query.", te.ModelText())

	again := FromError(fmt.Errorf("outer: %w", te))
	require.Same(t, te, again)
}

func TestNilSafety(t *testing.T) {
	var te *ToolError
	require.Empty(t, te.Error())
	require.Nil(t, te.Unwrap())
	require.Nil(t, FromError(nil))
	require.Equal(t, "tool error", New("").Message)
}
