package errors

import "errors"

type Category string

const (
	CategoryInvalidInput     Category = "invalid_input"
	CategoryValidation       Category = "validation_failed"
	CategoryNotFound         Category = "not_found"
	CategoryIOFailure        Category = "io_failure"
	CategoryCorruptPayload   Category = "corrupt_payload"
	CategoryNetworkTransient Category = "network_transient"
	CategoryNetworkPermanent Category = "network_permanent"
	CategoryInternalFailure  Category = "internal_failure"
)

// Handling is how a session surfaces a failure of the given category.
type Handling string

const (
	HandlingAutoRetry  Handling = "auto_retry"
	HandlingManual     Handling = "manual_retry"
	HandlingValidation Handling = "validation"
	HandlingTerminal   Handling = "terminal"
)

type classifiedError struct {
	category  Category
	code      string
	hint      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func (e *classifiedError) Category() Category {
	return e.category
}

func (e *classifiedError) Code() string {
	return e.code
}

func (e *classifiedError) Hint() string {
	return e.hint
}

func (e *classifiedError) Retryable() bool {
	return e.retryable
}

func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		hint:      hint,
		retryable: retryable,
		cause:     cause,
	}
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}
	return false
}

// IsClassified reports whether err carries a category anywhere in its chain.
func IsClassified(err error) bool {
	var classified *classifiedError
	return errors.As(err, &classified)
}

// HandlingOf maps an error onto the session's failure taxonomy. Unclassified
// errors are treated as manual-retry failures.
func HandlingOf(err error) Handling {
	if err == nil {
		return ""
	}
	switch CategoryOf(err) {
	case CategoryNetworkTransient:
		return HandlingAutoRetry
	case CategoryValidation:
		return HandlingValidation
	case CategoryCorruptPayload, CategoryInternalFailure:
		return HandlingTerminal
	default:
		if RetryableOf(err) {
			return HandlingAutoRetry
		}
		return HandlingManual
	}
}
