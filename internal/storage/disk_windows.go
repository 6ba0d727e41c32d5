//go:build windows

package storage

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// DiskUsage describes the filesystem holding the recordings directory.
type DiskUsage struct {
	TotalBytes     int64
	AvailableBytes int64
	UsagePercent   float64
}

// ReadDiskUsage stats the volume containing path.
func ReadDiskUsage(path string) (*DiskUsage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	pathPtr, err := windows.UTF16PtrFromString(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to encode path: %w", err)
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	var usagePercent float64
	if totalBytes > 0 {
		usagePercent = float64(totalBytes-freeBytesAvailable) / float64(totalBytes) * 100.0
	}

	return &DiskUsage{
		TotalBytes:     int64(totalBytes),
		AvailableBytes: int64(freeBytesAvailable),
		UsagePercent:   usagePercent,
	}, nil
}
