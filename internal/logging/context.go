package logging

import "context"

type attrsKey struct{}

// ContextWith returns a copy of ctx carrying key-value pairs that every
// SlogLogger call made with the returned context adds to its record.
// Pairs accumulate across nested calls.
func ContextWith(ctx context.Context, args ...any) context.Context {
	prev := argsFrom(ctx)
	merged := make([]any, 0, len(prev)+len(args))
	merged = append(merged, prev...)
	merged = append(merged, args...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

func argsFrom(ctx context.Context) []any {
	args, _ := ctx.Value(attrsKey{}).([]any)
	return args
}
