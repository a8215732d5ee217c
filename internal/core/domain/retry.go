package domain

// DecisionKind is the closed set of retry classifications.
type DecisionKind int

const (
	DecisionPermanent          DecisionKind = iota // stop, surface
	DecisionRateLimited                            // rotate credential or wait
	DecisionTransient                              // retry with backoff when safe
	DecisionAmbiguousTransient                     // remote may have committed; never retry blindly
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionPermanent:
		return "permanent"
	case DecisionRateLimited:
		return "rate_limited"
	case DecisionTransient:
		return "transient"
	case DecisionAmbiguousTransient:
		return "ambiguous_transient"
	default:
		return "unknown"
	}
}

// RetryDecision is derived purely from an error.
type RetryDecision struct {
	Kind   DecisionKind
	Reason string

	// CredentialScoped marks faults owned by the credential itself (expired token),
	// which are handled by rotating rather than surfacing.
	CredentialScoped bool

	// Unclassified is set when no rule matched; such errors get a single retry at most.
	Unclassified bool
}

func Permanent(reason string) RetryDecision {
	return RetryDecision{Kind: DecisionPermanent, Reason: reason}
}

func RateLimited(reason string) RetryDecision {
	return RetryDecision{Kind: DecisionRateLimited, Reason: reason}
}

func Transient(reason string) RetryDecision {
	return RetryDecision{Kind: DecisionTransient, Reason: reason}
}

func AmbiguousTransient(reason string) RetryDecision {
	return RetryDecision{Kind: DecisionAmbiguousTransient, Reason: reason}
}
