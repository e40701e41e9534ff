/**
 * @description
 * Domain error taxonomy for the price tracking/prediction core.
 * Services wrap repository and model failures into these types so callers
 * can branch on error kind with errors.As/errors.Is instead of matching
 * message strings.
 *
 * @dependencies
 * - standard "errors"
 * - standard "fmt"
 */

package errs

import (
	"errors"
	"fmt"
)

// InsufficientDataError reports that a series is too short for analysis or
// forecasting. Never retried; the caller must collect more history first.
type InsufficientDataError struct {
	Required  int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient price history: required %d points, have %d", e.Required, e.Available)
}

// NotFoundError reports a missing or not-owned entity (deal, tracker, prediction).
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// TrackingError is a generic tracker operation failure. The original cause
// is preserved and unwrappable.
type TrackingError struct {
	Op  string
	Err error
}

func (e *TrackingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("price tracking failed: %s", e.Op)
	}
	return fmt.Sprintf("price tracking failed: %s: %v", e.Op, e.Err)
}

func (e *TrackingError) Unwrap() error { return e.Err }

// PredictionError is a forecaster/model failure.
type PredictionError struct {
	Model string
	Op    string
	Err   error
}

func (e *PredictionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("price prediction failed: %s/%s", e.Model, e.Op)
	}
	return fmt.Sprintf("price prediction failed: %s/%s: %v", e.Model, e.Op, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }

// ModelError marks a failure inside the model fitting/scoring step itself.
// It unwraps to a PredictionError so errors.As sees both.
type ModelError struct {
	Model  string
	Reason string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s failed: %s", e.Model, e.Reason)
}

func (e *ModelError) Unwrap() error {
	return &PredictionError{Model: e.Model, Op: "fit"}
}

// ValidationError reports malformed input (negative price, bad interval, etc).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Tracking wraps err in a TrackingError unless it already carries domain meaning.
func Tracking(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		nf *NotFoundError
		id *InsufficientDataError
		ve *ValidationError
	)
	if errors.As(err, &nf) || errors.As(err, &id) || errors.As(err, &ve) {
		return err
	}
	return &TrackingError{Op: op, Err: err}
}

// Prediction wraps err in a PredictionError unless it already carries domain meaning.
func Prediction(model, op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		id *InsufficientDataError
		pe *PredictionError
	)
	if errors.As(err, &id) || errors.As(err, &pe) {
		return err
	}
	return &PredictionError{Model: model, Op: op, Err: err}
}
