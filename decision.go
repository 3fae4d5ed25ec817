package ldapauth

// AuthDecisionKind is the result class of one directory login.
type AuthDecisionKind int

const (
	// DecisionUnavailable means no directory host could be used.
	DecisionUnavailable AuthDecisionKind = iota
	// DecisionRejected means the directory refused the credentials.
	DecisionRejected
	// DecisionAuthenticated means the credential bind succeeded.
	DecisionAuthenticated
)

func (k AuthDecisionKind) String() string {
	switch k {
	case DecisionAuthenticated:
		return "authenticated"
	case DecisionRejected:
		return "directory_rejected"
	case DecisionUnavailable:
		return "directory_unavailable"
	default:
		return "unknown"
	}
}

// AuthDecision is the outcome of Directory.Login. It is created per attempt and
// never persisted.
type AuthDecision struct {
	Kind AuthDecisionKind
	// Profile is set only for DecisionAuthenticated.
	Profile *Profile
	// Host is the directory URL that answered, if any.
	Host string
	// Err carries the diagnostic cause for DecisionUnavailable and DecisionRejected.
	Err error
}

// Outcome is what the host application should do with a login.
type Outcome int

const (
	// Accepted means the user is logged in as Decision.Identity.
	Accepted Outcome = iota
	// FallbackToLocal means the directory gave no verdict the bridge acts on;
	// the host continues with its own credential check.
	FallbackToLocal
	// Rejected means the login must fail with ErrAccessDenied.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case FallbackToLocal:
		return "fallback_to_local"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Reason explains how the bridge arrived at its Outcome.
type Reason int

const (
	ReasonVerified Reason = iota
	ReasonAlreadyAuthenticated
	ReasonDirectoryUnavailable
	ReasonDirectoryRejected
	ReasonNoLocalAccount
	ReasonLocalLookupFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonVerified:
		return "verified"
	case ReasonAlreadyAuthenticated:
		return "already_authenticated"
	case ReasonDirectoryUnavailable:
		return "directory_unavailable"
	case ReasonDirectoryRejected:
		return "directory_rejected"
	case ReasonNoLocalAccount:
		return "no_local_account"
	case ReasonLocalLookupFailed:
		return "local_lookup_failed"
	default:
		return "unknown"
	}
}

// Identity is a local account known to the UserStore.
type Identity struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Decision is the result of Bridge.Authenticate.
type Decision struct {
	Outcome Outcome
	Reason  Reason

	// Identity is set for Accepted.
	Identity *Identity
	// Profile is set for Accepted after a directory login.
	Profile *Profile
	// Err is ErrAccessDenied for Rejected, nil otherwise.
	Err error
}

// IsAccepted reports whether the user is logged in.
func (d Decision) IsAccepted() bool {
	return d.Outcome == Accepted
}
