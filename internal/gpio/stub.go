//go:build !linux

package gpio

import "errors"

// CheckChip always fails on non-Linux platforms.
func CheckChip(chip string) error {
	return errors.New("gpio: not supported on this platform (requires Linux)")
}

func (s *Source) open() (lineCloser, error) {
	return nil, errors.New("gpio: not supported")
}
