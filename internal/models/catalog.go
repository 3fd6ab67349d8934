package models

import "time"

// Project is a catalog row; the coordinator only needs identity and name.
type Project struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

// ImageRef resolves image IDs to human-readable names in status and
// conflict displays. Pixel data lives elsewhere.
type ImageRef struct {
	ID        string
	ProjectID string
	Name      string
	CreatedAt time.Time
}
