//go:build !windows && !linux

package procsys

import "runtime"

type unsupportedSystem struct{}

// New returns the System for the running OS. On this platform every
// operation fails with ErrUnsupported, which the enforcer absorbs.
func New() System {
	return unsupportedSystem{}
}

func (unsupportedSystem) Processes() ([]Process, error) {
	return nil, ErrUnsupported
}

func (unsupportedSystem) Open(int) (Lease, error) {
	return nil, ErrUnsupported
}

func (unsupportedSystem) LogicalCores() (int, error) {
	return runtime.NumCPU(), nil
}

// IsElevated always reports false where process control is unsupported.
func IsElevated() bool {
	return false
}
