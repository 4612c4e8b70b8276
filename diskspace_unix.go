//go:build unix || linux || darwin

// Free-space check for MergeSortCompactor's disk-space gate (spec
// §4.7), via golang.org/x/sys/unix rather than raw syscall so the same
// call works across the BSD/Linux statfs variants x/sys normalises.
package corestore

import "golang.org/x/sys/unix"

func availableDiskSpace(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
