package file

import (
	"errors"
	"fmt"

	"github.com/opd-ai/filepeer/transport"
	"github.com/sirupsen/logrus"
)

// ErrStorageInfoUnsupported indicates free-space detection is not available
// on this platform.
var ErrStorageInfoUnsupported = errors.New("storage information not supported on this platform")

// StorageInfo contains information about the filesystem holding a path.
type StorageInfo struct {
	TotalBytes     uint64
	AvailableBytes uint64
	UsedBytes      uint64
}

// GetStorageInfo returns storage information for the filesystem holding dir.
func GetStorageInfo(dir string) (*StorageInfo, error) {
	info, err := statFilesystem(dir)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "GetStorageInfo",
		"dir":             dir,
		"total_bytes":     info.TotalBytes,
		"available_bytes": info.AvailableBytes,
	}).Debug("Filesystem statistics")

	return info, nil
}

// checkCapacity refuses a store when the root filesystem has less than
// minFree bytes available. Platforms without statfs support always pass.
func checkCapacity(dir string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}

	info, err := GetStorageInfo(dir)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "checkCapacity",
			"dir":      dir,
			"error":    err.Error(),
		}).Warn("Free space unknown, accepting store")
		return nil
	}

	if info.AvailableBytes < minFree {
		return fmt.Errorf("%w: %d bytes available, %d required", transport.ErrNoSpace, info.AvailableBytes, minFree)
	}
	return nil
}
