package filing

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound means the requested filing does not exist at the source.
	ErrNotFound = eris.New("filing not found")
	// ErrAmbiguousScope means no company could be resolved from a question.
	ErrAmbiguousScope = eris.New("ambiguous query scope")
	// ErrNoData means nothing has been ingested for the resolved scope.
	ErrNoData = eris.New("no data for scope")
	// ErrInsufficientContext means retrieved content cannot support an answer.
	ErrInsufficientContext = eris.New("insufficient context")
	// ErrCapabilityFailure means an embedding or completion call failed after retries.
	ErrCapabilityFailure = eris.New("capability failure")
	// ErrParseFailure marks a filing segment that could not be extracted.
	ErrParseFailure = eris.New("parse failure")
	// ErrInvalidRequest means a caller supplied a malformed filing request or question.
	ErrInvalidRequest = eris.New("invalid request")
)

// CapabilityFailure marks err as ErrCapabilityFailure while keeping the
// original chain inspectable.
func CapabilityFailure(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCapabilityFailure) {
		return eris.Wrap(err, msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrCapabilityFailure, msg, err)
}
