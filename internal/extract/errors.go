package extract

import "errors"

// Failure taxonomy for a single extraction attempt. All four are
// retryable within the outer attempt budget. A title-verification
// mismatch is deliberately not an error: it marks the result as
// unverified but never fails the attempt.
var (
	// ErrLocate means the target could not be found or its open
	// affordance could not be clicked.
	ErrLocate = errors.New("locate failed")

	// ErrNavigation means the click opened a full-page view instead
	// of the expected inline panel, and the corrective re-click did
	// not fix it.
	ErrNavigation = errors.New("unexpected navigation")

	// ErrParse means the extraction response contained no
	// recoverable structured payload.
	ErrParse = errors.New("no structured payload in response")

	// ErrTimeout means a step exceeded its settle budget.
	ErrTimeout = errors.New("step timed out")
)
