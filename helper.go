// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// EnvFDName is the variable a DRM backend reads to inherit an
// already-open master fd from the launcher.
const EnvFDName = "TDM_DRM_MASTER_FD"

// GetEnvFD returns a duplicate of the fd published under env, or
// -1 when unset or invalid. The caller owns the duplicate.
func GetEnvFD(env string) int {
	v := os.Getenv(env)
	if v == "" {
		return -1
	}
	fd, err := strconv.Atoi(v)
	if err != nil || fd < 0 {
		log().Errorf("%s: invalid fd %q", env, v)
		return -1
	}
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 3)
	if err != nil {
		log().Errorf("%s: dup fd %d: %v", env, fd, err)
		return -1
	}
	return dup
}

// SetEnvFD publishes fd under env for child components; -1 clears
// the variable.
func SetEnvFD(env string, fd int) {
	if fd < 0 {
		os.Unsetenv(env)
		return
	}
	os.Setenv(env, strconv.Itoa(fd))
}
