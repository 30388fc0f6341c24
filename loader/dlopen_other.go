//go:build !darwin && !freebsd && !linux

package loader

import (
	"fmt"
	"runtime"
)

var errUnsupported = fmt.Errorf("dynamic loading is not supported on %s", runtime.GOOS)

func dlopen(string) (uintptr, error) { return 0, errUnsupported }

func dlsym(uintptr, string) (uintptr, error) { return 0, errUnsupported }

func dlclose(uintptr) error { return errUnsupported }

func callbacksSupported() bool { return false }
