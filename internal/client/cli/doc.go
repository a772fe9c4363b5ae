// Package cli provides the interactive gatekeeper command-line client.
//
// It wires configuration, the gRPC client and a small REPL. A background
// watcher pings the server and switches the prompt between online and
// offline mode.
//
// Commands:
//   - register, login, logout
//   - stats (account statistics of the logged-in user)
//   - whoami, ping, help, exit
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// App.Exec runs a single command non-interactively.
package cli
