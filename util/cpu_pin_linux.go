//go:build linux

package util

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinTo restricts the calling OS thread to the given CPUs.
func PinTo(cpus ...int) error {
	set := &unix.CPUSet{}
	for _, cpu := range cpus {
		set.Set(cpu)
	}

	err := unix.SchedSetaffinity(0, set)
	if err != nil {
		return err
	}

	verify := &unix.CPUSet{}
	err = unix.SchedGetaffinity(0, verify)
	if err != nil {
		return err
	}

	if verify.Count() != len(cpus) {
		return fmt.Errorf("could not pin to CPUs %v", cpus)
	}
	for _, cpu := range cpus {
		if !verify.IsSet(cpu) {
			return fmt.Errorf("could not pin to CPUs %v", cpus)
		}
	}

	return nil
}

// LockAndPin wires the calling goroutine to its OS thread and pins that
// thread to cpu. The returned function restores the previous affinity and
// unwires the goroutine; it must be called from the same goroutine.
func LockAndPin(cpu int) (func(), error) {
	runtime.LockOSThread()

	prev := &unix.CPUSet{}
	if err := unix.SchedGetaffinity(0, prev); err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}

	if err := PinTo(cpu); err != nil {
		_ = unix.SchedSetaffinity(0, prev)
		runtime.UnlockOSThread()
		return nil, err
	}

	return func() {
		_ = unix.SchedSetaffinity(0, prev)
		runtime.UnlockOSThread()
	}, nil
}
