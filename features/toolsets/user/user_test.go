package user_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/features/toolsets/user"
	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/idp"
)

type fakeProfiles struct {
	got  string
	info idp.UserInfo
	err  error
}

func (f *fakeProfiles) UserInfo(_ context.Context, session auth.Secret) (idp.UserInfo, error) {
	f.got = session.Reveal()
	return f.info, f.err
}

func TestGetUserInfoUsesSessionToken(t *testing.T) {
	src := &fakeProfiles{info: idp.UserInfo{Subject: "auth0|alice", Name: "Alice", Email: "alice@example.com"}}
	tl := user.Tools(src)[0]
	require.Equal(t, tools.Plain{}, tl.Access)

	ctx := auth.WithPrincipal(context.Background(), auth.Principal{
		Subject:      "auth0|alice",
		SessionToken: auth.NewSecret("session-at"),
	})
	res, err := tl.Handler(ctx, tools.Call{Name: tl.Name})
	require.NoError(t, err)
	require.Equal(t, "session-at", src.got)

	txt, err := res.Text()
	require.NoError(t, err)
	require.JSONEq(t, `{"sub":"auth0|alice","name":"Alice","email":"alice@example.com"}`, txt)
}

func TestGetUserInfoWithoutPrincipal(t *testing.T) {
	tl := user.Tools(&fakeProfiles{})[0]
	_, err := tl.Handler(context.Background(), tools.Call{Name: tl.Name})
	require.ErrorIs(t, err, auth.ErrNoPrincipal)
}

func TestGetUserInfoPropagatesFailure(t *testing.T) {
	boom := errors.New("userinfo unavailable")
	tl := user.Tools(&fakeProfiles{err: boom})[0]
	ctx := auth.WithPrincipal(context.Background(), auth.Principal{Subject: "auth0|alice", SessionToken: auth.NewSecret("x")})
	_, err := tl.Handler(ctx, tools.Call{Name: tl.Name})
	require.ErrorIs(t, err, boom)
}
