//go:build linux || darwin

package collector

import "golang.org/x/sys/unix"

// statfs returns the total and available bytes of the filesystem at path.
func statfs(path string) (total, avail uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}
