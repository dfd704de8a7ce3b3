package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport-level failure (snapshot fetch or
// stream I/O). Usually retriable: the controller keeps buffering diffs and
// retries the fetch on its next scheduled trigger, so no data is lost.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "fetch_depth", "dial", "read")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// MalformedEventError reports a decoded event that failed an internal
// consistency check (wrong event-type tag, bad numeric field). The event
// is dropped and logged; sync state is unaffected.
type MalformedEventError struct {
	Kind string // expected event kind
	Err  error
}

func (e *MalformedEventError) Error() string {
	return "malformed " + e.Kind + " event: " + e.Err.Error()
}

func (e *MalformedEventError) IsRetriable() bool {
	return false
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrUnknownSymbol is returned when an event is routed for a symbol the
	// registry does not track. The event is dropped with a diagnostic; this
	// is expected under subscription races, not a failure.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrAlreadyTracked is the observable no-op signal for tracking a
	// symbol twice.
	ErrAlreadyTracked = errors.New("symbol already tracked")

	// ErrNoData is returned when a derived view is requested before the
	// first successful snapshot.
	ErrNoData = errors.New("no book data yet")

	// ErrInvalidSymbol is returned when a symbol is malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
