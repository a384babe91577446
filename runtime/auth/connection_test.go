package auth

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestNormalizeScopes(t *testing.T) {
	require.Nil(t, NormalizeScopes(nil))
	require.Nil(t, NormalizeScopes([]string{" ", ""}))
	require.Equal(t, []string{"a", "b", "c"}, NormalizeScopes([]string{"c a", "b", "a"}))
}

func TestCoversScopes(t *testing.T) {
	require.True(t, CoversScopes(nil, nil))
	require.True(t, CoversScopes([]string{"openid", "mail"}, []string{"mail"}))
	require.False(t, CoversScopes([]string{"openid"}, []string{"mail"}))
	require.True(t, CoversScopes([]string{"openid mail"}, []string{"mail", "openid"}))
}

func TestConnectionKey(t *testing.T) {
	require.Equal(t, "github", Connection{ID: "github"}.Key())
	require.Equal(t, "shop@https://api.shop", Connection{ID: "shop", Audience: "https://api.shop"}.Key())
}

func TestScopeAlgebraProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	scope := gen.OneConstOf("openid", "profile", "mail.read", "mail.write", "calendar", "repo")
	scopes := gen.SliceOf(scope)

	properties.Property("union covers both operands", prop.ForAll(
		func(a, b []string) bool {
			u := UnionScopes(a, b)
			return CoversScopes(u, a) && CoversScopes(u, b)
		},
		scopes, scopes,
	))
	properties.Property("normalize is idempotent", prop.ForAll(
		func(a []string) bool {
			once := NormalizeScopes(a)
			return len(once) == len(NormalizeScopes(once))
		},
		scopes,
	))
	properties.Property("a set covers itself", prop.ForAll(
		func(a []string) bool { return CoversScopes(a, a) },
		scopes,
	))
	properties.TestingRun(t)
}
