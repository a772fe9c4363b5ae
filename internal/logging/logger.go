// Package logging defines the structured-logging interface used across
// gatekeeper and its slog-backed implementation.
package logging

import "context"

// Logger is the structured logger passed to every gatekeeper component.
// Args are alternating keys and values:
//
//	log.Info(ctx, "admission rejected", "class", class, "identity", id)
//
// Attributes stored in ctx with ContextWith are added to each record.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that adds args to every record.
	With(args ...any) Logger
}

type nop struct{}

func (nop) Debug(context.Context, string, ...any) {}
func (nop) Info(context.Context, string, ...any)  {}
func (nop) Warn(context.Context, string, ...any)  {}
func (nop) Error(context.Context, string, ...any) {}
func (n nop) With(...any) Logger                  { return n }

// Nop returns a Logger that discards everything.
func Nop() Logger { return nop{} }
