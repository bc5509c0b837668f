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

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
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

// DecodeError is returned when a stream message does not match the schema for its tag.
type DecodeError struct {
	Tag string // Event-type discriminator ("trade", "kline", ...); empty if absent
	Err error
}

func (e *DecodeError) Error() string {
	if e.Tag == "" {
		return "decode: " + e.Err.Error()
	}
	return "decode [" + e.Tag + "]: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsRetriable always returns false for decode failures.
func (e *DecodeError) IsRetriable() bool {
	return false
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidSymbol is returned when a symbol is empty or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidPrice is returned for non-positive, NaN or infinite prices
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInvalidQuote is returned for a negative or non-finite bid, ask or volume
	ErrInvalidQuote = errors.New("invalid quote")

	// ErrDecode is the base for schema mismatches in stream payloads
	ErrDecode = errors.New("unexpected message shape")

	// ErrStaleCache is returned when a cache file is older than its source TTL
	ErrStaleCache = errors.New("stale cache file")

	// ErrReaderClosed is returned by a closed cache reader
	ErrReaderClosed = errors.New("cache reader closed")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
