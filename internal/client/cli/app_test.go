package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/client/client"
	"github.com/dmitrijs2005/gatekeeper/internal/client/config"
	"github.com/dmitrijs2005/gatekeeper/internal/rpcapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu sync.Mutex

	registered []string
	password   string
	loginErr   error
	pingErr    error
	loggedIn   bool
	stats      *rpcapi.UserStats
	closed     bool
}

func (f *fakeAPI) Register(_ context.Context, email string, password []byte, fullName string) error {
	f.registered = append(f.registered, email, fullName)
	f.password = string(password)
	f.loggedIn = true
	return nil
}

func (f *fakeAPI) Login(_ context.Context, _ string, password []byte) error {
	f.password = string(password)
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeAPI) Logout(context.Context) error {
	if !f.loggedIn {
		return client.ErrNotLoggedIn
	}
	f.loggedIn = false
	return nil
}

func (f *fakeAPI) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeAPI) Stats(context.Context) (*rpcapi.UserStats, error) {
	if !f.loggedIn {
		return nil, client.ErrNotLoggedIn
	}
	return f.stats, nil
}

func (f *fakeAPI) User() *rpcapi.User {
	if !f.loggedIn {
		return nil
	}
	return &rpcapi.User{Email: "a@example.com", FullName: "Ann", Roles: []string{"user"}}
}

func (f *fakeAPI) IsLoggedIn() bool { return f.loggedIn }
func (f *fakeAPI) Close() error     { f.closed = true; return nil }

func newTestApp(api *fakeAPI, input string) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &App{
		config: &config.Config{},
		client: api,
		reader: bufio.NewReader(bytes.NewBufferString(input)),
		out:    out,
	}, out
}

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	old := getPassword
	getPassword = func(*bufio.Reader, io.Writer) ([]byte, error) { return []byte(pw), nil }
	t.Cleanup(func() { getPassword = old })
}

func TestApp_RegisterAndStats(t *testing.T) {
	stubPassword(t, "Str0ngPassw0rd")
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	api := &fakeAPI{stats: &rpcapi.UserStats{UserID: "u1", Email: "a@example.com", FullName: "Ann", CreatedAt: created, RefreshTokenCount: 2}}
	app, out := newTestApp(api, "a@example.com\nAnn\n")
	ctx := context.Background()

	require.NoError(t, app.Register(ctx))
	assert.Equal(t, []string{"a@example.com", "Ann"}, api.registered)
	assert.Equal(t, "Str0ngPassw0rd", api.password)
	assert.Equal(t, "(a@example.com )", app.getStatus())

	require.NoError(t, app.Stats(ctx))
	assert.Contains(t, out.String(), "Active tokens:  2")
	assert.Contains(t, out.String(), "Created:        2025-06-01 10:00:00 UTC")
	assert.NotContains(t, out.String(), "Last login")

	require.NoError(t, app.Whoami(ctx))
	assert.Contains(t, out.String(), "Ann <a@example.com> roles=user")
}

func TestApp_LoginUnavailableSwitchesOffline(t *testing.T) {
	stubPassword(t, "pw")
	api := &fakeAPI{loginErr: client.ErrUnavailable}
	app, out := newTestApp(api, "a@example.com\n")

	err := app.Login(context.Background())
	assert.ErrorIs(t, err, client.ErrUnavailable)
	assert.Equal(t, ModeOffline, app.Mode())
	assert.Equal(t, "", app.userName)
	assert.Contains(t, out.String(), "Login unsuccessful")
}

func TestApp_LoginAndLogout(t *testing.T) {
	stubPassword(t, "pw")
	api := &fakeAPI{}
	app, _ := newTestApp(api, "a@example.com\n")
	ctx := context.Background()

	require.NoError(t, app.Login(ctx))
	assert.Equal(t, ModeOnline, app.Mode())
	assert.True(t, app.isLoggedIn())

	require.NoError(t, app.Logout(ctx))
	assert.False(t, app.isLoggedIn())
	assert.Equal(t, "(online)", app.getStatus())

	// logging out twice is harmless
	require.NoError(t, app.Logout(ctx))
}

func TestApp_StatsWithoutLogin(t *testing.T) {
	app, out := newTestApp(&fakeAPI{}, "")

	assert.ErrorIs(t, app.Stats(context.Background()), client.ErrNotLoggedIn)
	assert.ErrorIs(t, app.Whoami(context.Background()), client.ErrNotLoggedIn)
	assert.Contains(t, out.String(), "Not logged in")
}

func TestApp_Exec(t *testing.T) {
	api := &fakeAPI{}
	app, out := newTestApp(api, "")

	require.NoError(t, app.Exec(context.Background(), "ping"))
	assert.Contains(t, out.String(), "OK")
	assert.True(t, api.closed)

	assert.Error(t, app.Exec(context.Background(), "nope"))
}

func TestApp_OnlineStatusWatcher(t *testing.T) {
	api := &fakeAPI{pingErr: errors.New("down")}
	app, _ := newTestApp(api, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		app.StartOnlineStatusWatcher(ctx, 5*time.Millisecond)
	}()

	assert.Eventually(t, func() bool { return app.Mode() == ModeOffline }, time.Second, 5*time.Millisecond)

	api.mu.Lock()
	api.pingErr = nil
	api.mu.Unlock()
	assert.Eventually(t, func() bool { return app.Mode() == ModeOnline }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("stats"))
	assert.True(t, IsCommand("ping"))
	assert.False(t, IsCommand("exit"))
	assert.False(t, IsCommand("127.0.0.1:50051"))
}
