package channel

import "context"

// Policy selects how a call obtains its connection.
type Policy int

const (
	// PolicyShared reuses the channel's cached connection.
	PolicyShared Policy = iota
	// PolicyPerCall dials a fresh connection for the call and closes it
	// afterwards.
	PolicyPerCall
)

// String returns the string representation of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyShared:
		return "shared"
	case PolicyPerCall:
		return "per_call"
	default:
		return "unknown"
	}
}

// ParsePolicy maps "shared" and "per_call" to a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "shared", "":
		return PolicyShared, true
	case "per_call":
		return PolicyPerCall, true
	default:
		return PolicyShared, false
	}
}

type policyKey struct{}

// WithPolicy returns a context that makes Invoke use p.
func WithPolicy(ctx context.Context, p Policy) context.Context {
	return context.WithValue(ctx, policyKey{}, p)
}

// PolicyFrom returns the policy stored in ctx, or PolicyShared.
func PolicyFrom(ctx context.Context) Policy {
	p, _ := ctx.Value(policyKey{}).(Policy)
	return p
}
