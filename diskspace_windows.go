//go:build windows

package corestore

import "golang.org/x/sys/windows"

func availableDiskSpace(dir string) (int64, error) {
	var freeBytesAvailable uint64
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, err
	}
	if err := windows.GetDiskFreeSpaceEx(p, &freeBytesAvailable, nil, nil); err != nil {
		return 0, err
	}
	return int64(freeBytesAvailable), nil
}
