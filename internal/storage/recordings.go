package storage

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RecordingEntry is one segment file in the recordings listing.
type RecordingEntry struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Timestamp string `json:"timestamp"`
	Camera    string `json:"camera"`
}

// Listing groups segment files by date and hour range.
type Listing struct {
	Recordings map[string]map[string][]RecordingEntry `json:"recordings"`
	Dates      []string                               `json:"dates"`
}

// ListRecordings reads the two-level date/hour-range tree under root
// and groups the segment files it finds. Dates sort newest first,
// entries within an hour range by filename. A missing root yields an
// empty listing.
func ListRecordings(root string) (*Listing, error) {
	listing := &Listing{
		Recordings: make(map[string]map[string][]RecordingEntry),
		Dates:      []string{},
	}

	dateDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return listing, nil
		}
		return nil, err
	}

	for _, dateDir := range dateDirs {
		if !dateDir.IsDir() {
			continue
		}
		date := dateDir.Name()

		hourDirs, err := os.ReadDir(filepath.Join(root, date))
		if err != nil {
			continue
		}

		for _, hourDir := range hourDirs {
			if !hourDir.IsDir() {
				continue
			}
			hourRange := hourDir.Name()

			files, err := os.ReadDir(filepath.Join(root, date, hourRange))
			if err != nil {
				continue
			}

			for _, f := range files {
				if f.IsDir() || filepath.Ext(f.Name()) != ".mp4" {
					continue
				}
				info, err := f.Info()
				if err != nil {
					continue
				}

				ts, ok := SegmentTime(f.Name())
				if !ok {
					ts = info.ModTime()
				}

				if listing.Recordings[date] == nil {
					listing.Recordings[date] = make(map[string][]RecordingEntry)
				}
				listing.Recordings[date][hourRange] = append(listing.Recordings[date][hourRange], RecordingEntry{
					Filename:  f.Name(),
					Size:      info.Size(),
					Timestamp: ts.Format(time.RFC3339),
					Camera:    SegmentCamera(f.Name()),
				})
			}
		}
	}

	for date := range listing.Recordings {
		listing.Dates = append(listing.Dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(listing.Dates)))

	for _, hours := range listing.Recordings {
		for _, entries := range hours {
			sort.Slice(entries, func(i, j int) bool {
				return entries[i].Filename < entries[j].Filename
			})
		}
	}

	return listing, nil
}
