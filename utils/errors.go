package utils

import (
	"fmt"

	errors "github.com/go-errors/errors"
)

var (
	InvalidConfigError  = errors.New("Invalid config")
	NotImplementedError = errors.New("Not implemented")
)

// Wrap the error with a message but keep the original visible to
// errors.Is().
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}
