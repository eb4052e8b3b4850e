// Package tunnelerr defines the error-kind taxonomy of spec.md §7 so that
// callers across package boundaries can classify a failure with errors.Is
// without re-parsing error strings. Like most packages in the tree it is
// built purely on the standard library (see DESIGN.md): there is nothing in
// the retrieval pack resembling a shared error-kind/sentinel library, and
// reaching for one here would mean carrying a dependency for nine constants.
package tunnelerr

import "errors"

// Kind classifies why a substream, session, or handshake failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransportClosed
	KindProtocolViolation
	KindAuthFailed
	KindNotFound
	KindACLBlocked
	KindResourceExhausted
	KindChildFailed
	KindLagged
)

func (k Kind) String() string {
	switch k {
	case KindTransportClosed:
		return "transport_closed"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindAuthFailed:
		return "auth_failed"
	case KindNotFound:
		return "not_found"
	case KindACLBlocked:
		return "acl_blocked"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindChildFailed:
		return "child_failed"
	case KindLagged:
		return "lagged"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

var (
	// ErrTransportClosed classifies a substream/session failure caused by
	// the underlying connection going away.
	ErrTransportClosed = New(KindTransportClosed, errors.New("transport closed"))
	// ErrNotFound classifies an SNI host with no forward mapping or an
	// agent with no registered session.
	ErrNotFound = New(KindNotFound, errors.New("not found"))
	// ErrACLBlocked classifies a caller rejected by a forward's allowed_ips
	// check.
	ErrACLBlocked = New(KindACLBlocked, errors.New("blocked by forward acl"))
	// ErrAuthFailed classifies any handshake/token failure; deliberately
	// generic so the cause never leaks to the peer.
	ErrAuthFailed = New(KindAuthFailed, errors.New("authentication failed"))
)
