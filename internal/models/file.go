// Package models defines the domain types shared by storage and the index.
package models

import "time"

// FileMeta is a lightweight description of a file under the scan root.
type FileMeta struct {
	Path    string    `json:"path"` // absolute, cleaned
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// MTime returns the modification time as float seconds since the epoch,
// the representation stored in the index.
func (m FileMeta) MTime() float64 {
	return Seconds(m.ModTime)
}

// Seconds converts t to float seconds since the epoch.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
