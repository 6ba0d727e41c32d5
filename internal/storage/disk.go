package storage

// MaxDiskUsagePercent is the fill level above which the recordings
// volume counts as under pressure.
const MaxDiskUsagePercent = 95.0
