package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/gatekeeper/internal/client/client"
	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/rpcapi"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// commands maps command names to their handlers.
func commands(a *App) map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"register": a.Register,
		"login":    a.Login,
		"logout":   a.Logout,
		"stats":    a.Stats,
		"whoami":   a.Whoami,
		"ping":     a.Ping,
	}
}

// Register prompts for an email, password and full name and creates an
// account. A successful registration also logs the user in.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.reader, a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	fullName, err := getSimpleText(a.reader, "Full name (optional)", a.out)
	if err != nil {
		return err
	}

	if err := a.client.Register(ctx, email, password, fullName); err != nil {
		fmt.Fprintf(a.out, "Registration failed: %v\n", err)
		return err
	}

	a.userName = email
	fmt.Fprintln(a.out, "Success!")
	return nil
}

// Login prompts for credentials and opens a session.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.reader, a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.client.Login(ctx, email, password); err != nil {
		if errors.Is(err, client.ErrUnavailable) {
			a.setMode(ModeOffline)
		}
		fmt.Fprintf(a.out, "Login unsuccessful: %v\n", err)
		return err
	}

	a.userName = email
	a.setMode(ModeOnline)
	fmt.Fprintln(a.out, "Login successful")
	return nil
}

// Logout revokes the session. The local session is dropped even when the
// server call fails.
func (a *App) Logout(ctx context.Context) error {
	err := a.client.Logout(ctx)
	a.userName = ""
	if err != nil && !errors.Is(err, client.ErrNotLoggedIn) {
		fmt.Fprintf(a.out, "Logout: %v\n", err)
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) Stats(ctx context.Context) error {
	st, err := a.client.Stats(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "Stats unavailable: %v\n", err)
		return err
	}
	printStats(a.out, st)
	return nil
}

func (a *App) Whoami(context.Context) error {
	u := a.client.User()
	if u == nil {
		fmt.Fprintln(a.out, "Not logged in")
		return client.ErrNotLoggedIn
	}
	fmt.Fprintf(a.out, "%s <%s> roles=%s\n", u.FullName, u.Email, strings.Join(u.Roles, ","))
	return nil
}

func (a *App) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx); err != nil {
		a.setMode(ModeOffline)
		fmt.Fprintf(a.out, "Server unreachable: %v\n", err)
		return err
	}
	a.setMode(ModeOnline)
	fmt.Fprintln(a.out, "OK")
	return nil
}

func printStats(w io.Writer, st *rpcapi.UserStats) {
	fmt.Fprintf(w, "User:           %s <%s>\n", st.FullName, st.Email)
	fmt.Fprintf(w, "ID:             %s\n", st.UserID)
	fmt.Fprintf(w, "Created:        %s\n", st.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if st.LastLoginAt != nil {
		fmt.Fprintf(w, "Last login:     %s\n", st.LastLoginAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(w, "Active tokens:  %d\n", st.RefreshTokenCount)
}

// IsCommand reports whether name can be passed to App.Exec.
func IsCommand(name string) bool {
	_, ok := commands(&App{})[name]
	return ok
}
