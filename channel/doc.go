// Package channel keeps a reusable connection to a backend and rebuilds it
// when the backend reports the connection is no longer usable.
//
// A Channel dials lazily and shares one connection across callers. When an
// invocation fails with an error the Invalidated predicate recognises, the
// connection of that generation is discarded, the caller backs off for
// BaseBackoff·attempt plus up to MaxJitter, redials and tries again. Other
// errors are returned untouched. Running out of attempts yields a
// resilience TransientConnection error.
//
// Callers may ask for an isolated connection per call:
//
//	ctx = channel.WithPolicy(ctx, channel.PolicyPerCall)
//	resp, err := ch.Invoke(ctx, req)
//
// Providers that signal a dead session only through an error message are
// adapted at the boundary with Adapt and MatchMessages, so nothing inside
// the retry path inspects strings.
package channel
