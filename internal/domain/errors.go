package domain

import "errors"

var (
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrInvalidSide        = errors.New("invalid side")
	ErrOrderNotFound      = errors.New("order not found")
	ErrProtocol           = errors.New("protocol error")
	ErrSessionTimeout     = errors.New("session timeout")
	ErrEmptyBook          = errors.New("book side is empty")
	ErrPriceLevelNotFound = errors.New("price level not found")
	ErrOverloaded         = errors.New("server overloaded")
	ErrOrderIDExhausted   = errors.New("order identifier space exhausted")
	ErrSequencerStopped   = errors.New("sequencer stopped")
)

// ErrorKind is the wire name of an error reported to a client.
type ErrorKind string

const (
	KindInvalidQuantity    ErrorKind = "InvalidQuantity"
	KindInvalidPrice       ErrorKind = "InvalidPrice"
	KindOrderNotFound      ErrorKind = "OrderNotFound"
	KindProtocolError      ErrorKind = "ProtocolError"
	KindSessionTimeout     ErrorKind = "SessionTimeout"
	KindEmptyBook          ErrorKind = "EmptyBook"
	KindPriceLevelNotFound ErrorKind = "PriceLevelNotFound"
	KindOverloaded         ErrorKind = "Overloaded"
	KindInternal           ErrorKind = "Internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidQuantity, KindInvalidQuantity},
	{ErrInvalidPrice, KindInvalidPrice},
	{ErrOrderNotFound, KindOrderNotFound},
	{ErrProtocol, KindProtocolError},
	{ErrInvalidSide, KindProtocolError},
	{ErrSessionTimeout, KindSessionTimeout},
	{ErrEmptyBook, KindEmptyBook},
	{ErrPriceLevelNotFound, KindPriceLevelNotFound},
	{ErrOverloaded, KindOverloaded},
	{ErrSequencerStopped, KindOverloaded},
}

// KindOf classifies err into the wire error taxonomy.
func KindOf(err error) ErrorKind {
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindInternal
}

// IsValidation reports whether err is a recoverable command validation failure
// that leaves the book unchanged.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindInvalidQuantity, KindInvalidPrice, KindOrderNotFound, KindEmptyBook, KindPriceLevelNotFound:
		return true
	default:
		return false
	}
}

// ErrorForKind returns the sentinel error behind a wire kind, or nil for
// kinds without one.
func ErrorForKind(kind ErrorKind) error {
	for _, ek := range errorKinds {
		if ek.kind == kind {
			return ek.err
		}
	}
	return nil
}
