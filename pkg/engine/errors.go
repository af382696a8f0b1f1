package engine

import "fmt"

// LoadError reports an image that could not be read.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load image %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// WriteError reports an image that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write image %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// RegistrationError reports a failed registration or resampling call.
type RegistrationError struct {
	Kind   TransformKind
	Fixed  string
	Moving string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s registration of %s onto %s failed: %v", e.Kind, e.Moving, e.Fixed, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// ArithmeticError reports an addition or division that could not be
// carried out, usually because of mismatched shapes.
type ArithmeticError struct {
	Op  string
	Err error
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("image %s failed: %v", e.Op, e.Err)
}

func (e *ArithmeticError) Unwrap() error { return e.Err }
