package detection

import (
	"fmt"

	"github.com/tphakala/nailong-guard/internal/errors"
)

// errInvalidImage builds an InvalidImage error for the detection component
func errInvalidImage(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("detection").
		Category(errors.CategoryInvalidImage).
		Build()
}

// errInference builds an Inference error for the detection component
func errInference(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("detection").
		Category(errors.CategoryInference).
		Build()
}

// wrapInference marks err as an inference failure unless it already carries
// a category of its own.
func wrapInference(err error, backend string) error {
	if errors.CategoryOf(err) != errors.CategoryGeneric {
		return err
	}
	return errors.New(fmt.Errorf("inference failed: %w", err)).
		Component("detection").
		Category(errors.CategoryInference).
		Context("backend", backend).
		Build()
}
