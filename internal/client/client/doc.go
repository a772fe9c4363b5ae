// Package client is the gRPC client of the gatekeeper CLI.
//
// GRPCClient talks to the AuthService and UserStatsService over one
// connection. After Login or Register it keeps the token pair in memory,
// attaches "authorization: Bearer <access token>" to protected calls, and
// refreshes the pair once when the server answers "token expired".
//
// Transport failures are reported as ErrUnavailable and authentication
// failures as ErrUnauthorized, so the CLI can switch between online and
// offline display without inspecting gRPC statuses.
package client
