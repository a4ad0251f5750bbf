package helper

import "fmt"

// NewError wraps err with the name of the failed operation.
// A nil err stays nil.
func NewError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
