// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package diskspace

import "golang.org/x/sys/unix"

// Available returns the free space, in bytes, on the filesystem holding
// path (an existing directory).
func Available(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
