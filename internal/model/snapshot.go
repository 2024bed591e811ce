package model

import "time"

// Snapshot is a numbered copy of the site state stored next to the published content.
// CommitSHA is the branch head the version was committed on top of.
type Snapshot struct {
	Version     int       `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	CommitSHA   string    `json:"commitSha"`
	WebsiteData Website   `json:"websiteData"`
}

// SnapshotInfo describes a stored snapshot without loading it.
type SnapshotInfo struct {
	Version  int    `json:"version"`
	Filename string `json:"filename"`
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
}
