package domain

import "inbox_routing_backend/platform/apperr"

// Routing errors. Callers compare with errors.Is.
var (
	// ErrNoEligibleHandlers is returned when assignment is attempted on an empty pool.
	ErrNoEligibleHandlers = apperr.Unprocessable("no eligible handlers")
	// ErrQueueMisconfigured is returned when a queue cannot receive leads.
	ErrQueueMisconfigured = apperr.Unprocessable("queue has no pipeline configured")
	// ErrParentMismatch is returned when a child binding's handler is not a member of its parent.
	ErrParentMismatch = apperr.Validation("handler is not a member of the parent binding")
)
