package config

import "fmt"

// Error reports a setting that could not be resolved. Key names the offending
// environment variable or settings field.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid setting %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func settingError(key string, err error) error {
	return &Error{Key: key, Err: err}
}
