package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by how the client reacts to it. No kind is
// fatal; every failure ends up as a dismissable notice.
type Kind int

const (
	// TransientReadFailure is a failed query. Callers get an empty result.
	TransientReadFailure Kind = iota + 1
	// ValidationFailure is input rejected before any network call.
	ValidationFailure
	// AuthorizationFailure is a missing, invalid or expired token.
	AuthorizationFailure
	// MutationFailure is a rejected insert or update.
	MutationFailure
)

func (k Kind) String() string {
	switch k {
	case TransientReadFailure:
		return "transient read failure"
	case ValidationFailure:
		return "validation failure"
	case AuthorizationFailure:
		return "authorization failure"
	case MutationFailure:
		return "mutation failure"
	default:
		return "unknown failure"
	}
}

var (
	// ErrEmptyMessage rejects a message whose content is blank after trimming.
	ErrEmptyMessage = errors.New("Message cannot be empty")
	// ErrServerNameRequired rejects a server whose name is blank after trimming.
	ErrServerNameRequired = errors.New("Server name is required")
	// ErrCredentialsRequired rejects a sign in without username or password.
	ErrCredentialsRequired = errors.New("Username and password are required")
	// ErrInviteCodeRequired rejects a blank invite code.
	ErrInviteCodeRequired = errors.New("Invite code is required")
	// ErrReasonRequired rejects a report without a reason.
	ErrReasonRequired = errors.New("A reason is required")
	// ErrNoConversation indicates an operation needs a selected conversation.
	ErrNoConversation = errors.New("no conversation selected")
)

// Failure attaches a Kind and the failing operation to an error.
type Failure struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// APIError is a non-2xx response from the backend. Message is the server's
// {error} body, shown to users verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

// KindOf returns the Kind of the first Failure in err's chain, or 0.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

// classify wraps err as a Failure. Authorization and validation responses
// keep their own kind; everything else falls back to the given kind.
func classify(op string, fallback Kind, err error) *Failure {
	var existing *Failure
	if errors.As(err, &existing) {
		return existing
	}
	kind := fallback
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = AuthorizationFailure
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			if fallback == MutationFailure {
				kind = ValidationFailure
			}
		}
	}
	return &Failure{Kind: kind, Op: op, Err: err}
}
