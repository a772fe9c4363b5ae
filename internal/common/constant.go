package common

const (
	// AuthorizationHeaderName is the HTTP header and gRPC metadata key that
	// carries "Bearer <access token>".
	AuthorizationHeaderName = "authorization"

	// BearerPrefix precedes the token in the authorization value.
	BearerPrefix = "Bearer "

	// RelayKeyHeaderName carries the per-process key a gateway attaches to
	// calls it relays to its own gRPC listener. Those calls were already
	// admitted over HTTP.
	RelayKeyHeaderName = "x-gatekeeper-relay"

	// RetryAfterHeaderName is set on rate-limited responses.
	RetryAfterHeaderName = "Retry-After"

	// RefreshTokenBytes is the amount of entropy in an opaque refresh token.
	RefreshTokenBytes = 32
)
