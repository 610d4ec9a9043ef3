package domain

import "errors"

// Kind classifies failures surfaced to callers of the core.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindExpired
	KindPasswordRequired
	KindDuplicateKey
	KindNotConnected
	KindConnection
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindExpired:
		return "expired"
	case KindPasswordRequired:
		return "password required"
	case KindDuplicateKey:
		return "duplicate auth key"
	case KindNotConnected:
		return "not connected"
	case KindConnection:
		return "connection error"
	case KindProtocol:
		return "protocol error"
	default:
		return "unknown error"
	}
}

// Error is a classified failure. Err keeps the underlying cause for
// diagnostics; callers branch on Kind only.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of Op and Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrExpired          = &Error{Kind: KindExpired}
	ErrPasswordRequired = &Error{Kind: KindPasswordRequired}
	ErrDuplicateKey     = &Error{Kind: KindDuplicateKey}
	ErrNotConnected     = &Error{Kind: KindNotConnected}
	ErrConnection       = &Error{Kind: KindConnection}
	ErrProtocol         = &Error{Kind: KindProtocol}
)

// E builds a classified error for op.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
