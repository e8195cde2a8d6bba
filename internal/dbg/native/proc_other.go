//go:build !linux || !(amd64 || arm64)

package native

import "caesar.dev/cmd/internal/dbg/target"

func Launch(path string, args []string, opts Options) (target.Process, error) {
	return nil, &SpawnError{Path: path, Err: ErrUnsupportedPlatform}
}

func AttachPID(pid int, opts Options) (target.Process, error) {
	return nil, &HandleError{Pid: pid, Err: ErrUnsupportedPlatform}
}
