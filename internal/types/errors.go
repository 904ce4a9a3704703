package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy consumed across the pipeline. User-input errors abort the
// current message with a fixed reply; capacity errors map to "try later";
// format errors are retried once inside the analysis engine before becoming
// ErrInternal.
var (
	// ErrTypeUnsupported is raised when the transport marks an inbound
	// message as an unsupported post type.
	ErrTypeUnsupported = errors.New("unsupported message type")

	// ErrInvalidLink is raised when a post URL cannot be resolved, a media
	// download returns a non-2xx status, or a carousel index is out of
	// range.
	ErrInvalidLink = errors.New("invalid post link")

	// ErrQuotaExceeded maps the LLM backend's rate-limit response. Never
	// retried; surfaced to the user as "try again later".
	ErrQuotaExceeded = errors.New("llm quota exceeded")

	// ErrResponseFormat means the grounded-search phase did not return the
	// expected fenced JSON object.
	ErrResponseFormat = errors.New("malformed search response")

	// ErrInternal is the catch-all for unexpected failures. Logged with
	// the cause, shown to the user as a generic message.
	ErrInternal = errors.New("internal error")
)

// graphTooLongFragment is the transport's error message for replies over the
// 2000-character message limit.
const graphTooLongFragment = "Length of param message[text] must be less than or equal to 2000"

// GraphAPIError reports a failed outbound delivery.
type GraphAPIError struct {
	Message string
}

func (e *GraphAPIError) Error() string {
	return fmt.Sprintf("graph api: %s", e.Message)
}

// MessageTooLong reports whether the delivery failed because the reply
// exceeded the transport's character limit.
func (e *GraphAPIError) MessageTooLong() bool {
	return strings.Contains(e.Message, graphTooLongFragment)
}

// Internal wraps err as an ErrInternal while keeping the cause in the chain.
func Internal(err error) error {
	if err == nil {
		return ErrInternal
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}
