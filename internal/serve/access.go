package serve

import (
	"context"

	"sitebox/internal/store"
)

// Reason is the machine-readable denial code from the access-decision
// collaborator. It drives user-facing messaging only, never serving
// logic.
type Reason string

const (
	ReasonNotMember  Reason = "not_member"
	ReasonNotInvited Reason = "not_invited"
	ReasonUnknown    Reason = "unknown"
)

// Decision is an allow/deny verdict for a caller against a site.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// AccessDecider is the external collaborator consulted for non-public
// sites. The serving engine only consumes the verdict; policy storage
// (passwords, invite lists) lives elsewhere.
type AccessDecider interface {
	Decide(ctx context.Context, site *store.Site, callerIdentity string) Decision
}

// AccessDeciderFunc adapts a function to the AccessDecider interface.
type AccessDeciderFunc func(ctx context.Context, site *store.Site, callerIdentity string) Decision

func (f AccessDeciderFunc) Decide(ctx context.Context, site *store.Site, callerIdentity string) Decision {
	return f(ctx, site, callerIdentity)
}

// DenyNonPublic is the default decider when no policy backend is
// wired: every non-public site is denied with a mode-appropriate
// reason. Public sites never reach the decider at all.
func DenyNonPublic() AccessDecider {
	return AccessDeciderFunc(func(ctx context.Context, site *store.Site, callerIdentity string) Decision {
		switch site.AccessMode {
		case store.AccessPassword:
			return Decision{Allowed: false, Reason: ReasonNotInvited}
		case store.AccessPrivate, store.AccessOwnerOnly:
			return Decision{Allowed: false, Reason: ReasonNotMember}
		default:
			return Decision{Allowed: false, Reason: ReasonUnknown}
		}
	})
}

// reasonMessage maps a denial reason to the human-readable body sent
// with a Forbidden response.
func reasonMessage(r Reason) string {
	switch r {
	case ReasonNotMember:
		return "You do not have access to this site."
	case ReasonNotInvited:
		return "This site is restricted. Ask the owner for an invite."
	default:
		return "Access denied."
	}
}
