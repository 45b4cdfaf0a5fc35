package eligibility

import "errors"

var (
	// ErrInsufficientData indicates a relay lacks the history needed for a decision.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrInconsistentData indicates the fetched documents cannot be joined.
	ErrInconsistentData = errors.New("inconsistent data")
)

// DataError reports that a decision could not be made from the fetched data.
type DataError struct {
	Reason string
	Err    error
}

func (e *DataError) Error() string {
	if e.Reason == "" {
		return "data error: " + e.Err.Error()
	}
	return "data error: " + e.Err.Error() + ": " + e.Reason
}

func (e *DataError) Unwrap() error {
	return e.Err
}
