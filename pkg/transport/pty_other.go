//go:build !linux && !darwin && !freebsd
// +build !linux,!darwin,!freebsd

package transport

import (
	"errors"
	"runtime"
)

func openPty(cfg Config) (*Link, error) {
	return nil, errors.New("pseudo-terminals are not supported on " + runtime.GOOS)
}
