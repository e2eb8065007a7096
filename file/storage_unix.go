//go:build linux || darwin || freebsd

package file

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// statFilesystem uses the statfs system call.
func statFilesystem(dir string) (*StorageInfo, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return nil, fmt.Errorf("failed to get filesystem stats: %w", err)
	}

	// Bavail counts blocks available to unprivileged users.
	blockSize := uint64(stat.Bsize)
	total := uint64(stat.Blocks) * blockSize
	return &StorageInfo{
		TotalBytes:     total,
		AvailableBytes: uint64(stat.Bavail) * blockSize,
		UsedBytes:      total - uint64(stat.Bfree)*blockSize,
	}, nil
}
