//go:build !windows

package storage

import (
	"fmt"
	"path/filepath"
	"syscall"
)

// DiskUsage describes the filesystem holding the recordings directory.
type DiskUsage struct {
	TotalBytes     int64
	AvailableBytes int64
	UsagePercent   float64
}

// ReadDiskUsage stats the filesystem containing path.
func ReadDiskUsage(path string) (*DiskUsage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(absPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	totalBytes := int64(stat.Blocks) * int64(stat.Bsize)
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)

	var usagePercent float64
	if totalBytes > 0 {
		usagePercent = float64(totalBytes-availableBytes) / float64(totalBytes) * 100.0
	}

	return &DiskUsage{
		TotalBytes:     totalBytes,
		AvailableBytes: availableBytes,
		UsagePercent:   usagePercent,
	}, nil
}
