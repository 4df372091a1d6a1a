package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "sf_session", time.Hour, false), mr
}

func TestSessionSignInRoundTrip(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()

	var events []SessionEvent
	unsubscribe := sm.Subscribe(func(_ context.Context, ev SessionEvent) { events = append(events, ev) })

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	anonymousID := sess.ID
	sm.SignIn(sess, "bursar-1")
	require.NotEqual(t, anonymousID, sess.ID)
	require.Empty(t, events)

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	require.Len(t, events, 1)
	require.Equal(t, SessionSignedIn, events[0].Kind)
	require.Equal(t, "bursar-1", events[0].UserID)
	require.True(t, mr.Exists("schoolfees:session:"+sess.ID))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "bursar-1", loaded.User())

	sm.SignOut(loaded)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), loaded))
	require.Len(t, events, 2)
	require.Equal(t, SessionSignedOut, events[1].Kind)
	require.False(t, mr.Exists("schoolfees:session:"+sess.ID))

	unsubscribe()
	again, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sm.SignIn(again, "bursar-2")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), again))
	require.Len(t, events, 2)
}

func TestAnonymousSessionNotStored(t *testing.T) {
	sm, mr := newTestSessions(t)
	ctx := context.Background()
	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	require.Empty(t, mr.Keys())
	require.Empty(t, rec.Result().Cookies())
	require.Empty(t, ActorFromContext(ContextWithSession(ctx, sess)))
}
