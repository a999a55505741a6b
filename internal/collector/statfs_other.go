//go:build !linux && !darwin

package collector

import stderrors "errors"

func statfs(string) (total, avail uint64, err error) {
	return 0, 0, stderrors.New("statfs is not supported on this platform")
}
