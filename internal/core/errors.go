package core

import "errors"

var (
	// ErrUnknownConditionType reports a condition value whose shape is not
	// recognised. It is a rule authoring error.
	ErrUnknownConditionType = errors.New("unknown type of context field")
	// ErrInvalidRangeFormat is returned by [CheckRange] for non-range input.
	ErrInvalidRangeFormat = errors.New("expected a string type of element for range check")
	// ErrNonNumericRangeContext is returned by [CheckRange] when the context
	// value is not a number.
	ErrNonNumericRangeContext = errors.New("expected a numerical type of context value for range check")
	// ErrMissingPercentageSeed is returned when a percentage dimension is
	// evaluated without a usable percentageSeed in the context.
	ErrMissingPercentageSeed = errors.New("the property `percentageSeed` must be set in the context")
	// ErrInvalidEvaluator reports a custom evaluator that cannot be called.
	ErrInvalidEvaluator = errors.New("invalid custom evaluator")
)
