package processor

import (
	"context"
	"time"

	"github.com/M4ss1ck/tg-ai-chatbot/catalog"
)

// Verdict is the outcome of an entitlement check.
type Verdict int

const (
	// VerdictAllowed grants the call.
	VerdictAllowed Verdict = iota
	// VerdictDeniedNoIdentity means no user id was available. Callers must
	// surface this, never silently downgrade.
	VerdictDeniedNoIdentity
	// VerdictDeniedNotPremium is a definitive negative from the membership
	// store.
	VerdictDeniedNotPremium
	// VerdictUnknown means the membership store could not answer. The
	// primary request path aborts on it; the image-downgrade path treats it
	// as a denial.
	VerdictUnknown
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllowed:
		return "allowed"
	case VerdictDeniedNoIdentity:
		return "denied_no_identity"
	case VerdictDeniedNotPremium:
		return "denied_not_premium"
	default:
		return "unknown"
	}
}

// Membership is the slice of the premium service the checker needs.
type Membership interface {
	Contains(ctx context.Context, userID string) (bool, error)
}

const defaultCheckTimeout = 5 * time.Second

// Checker decides premium access per call. It is a pure query; callers own
// the consequences of each verdict.
type Checker struct {
	adminID string
	members Membership
	timeout time.Duration
}

func NewChecker(adminID string, members Membership, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &Checker{adminID: adminID, members: members, timeout: timeout}
}

// Check returns the verdict for userID invoking model. Free models are always
// allowed without touching the membership store. The admin id short-circuits
// the lookup, so a down store never locks the admin out. The returned error
// is non-nil only for VerdictUnknown.
func (c *Checker) Check(ctx context.Context, userID string, model catalog.Model) (Verdict, error) {
	if !model.IsPremium {
		return VerdictAllowed, nil
	}
	if userID == "" {
		return VerdictDeniedNoIdentity, nil
	}
	if c.adminID != "" && userID == c.adminID {
		return VerdictAllowed, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ok, err := c.members.Contains(ctx, userID)
	if err != nil {
		return VerdictUnknown, err
	}
	if !ok {
		return VerdictDeniedNotPremium, nil
	}
	return VerdictAllowed, nil
}
