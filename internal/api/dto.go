package api

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/librarian/internal/index"
	"github.com/starford/librarian/internal/tagservice"
)

// TagCount is a tag with its file count (aliased from the index).
type TagCount = index.TagCount

// FileRecord is an indexed file with its tags (aliased from the index).
type FileRecord = index.FileRecord

// SearchResult is a single search hit (aliased from the index).
type SearchResult = index.SearchResult

// FileDetail is the full file response (aliased from the domain layer).
type FileDetail = tagservice.FileDetail

// StatusResponse is the engine status (aliased from the domain layer).
type StatusResponse = tagservice.Status

// TagListResponse wraps the tag listing.
type TagListResponse struct {
	Tags  []TagCount `json:"tags" validate:"required"`
	Total int        `json:"total" example:"12" validate:"required"`
}

// FileListResponse wraps file listings.
type FileListResponse struct {
	Files []FileRecord `json:"files" validate:"required"`
	Total int          `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// RescanResponse reports the outcome of a whole-root rescan.
type RescanResponse struct {
	Added      int    `json:"added" example:"3"`
	Updated    int    `json:"updated" example:"1"`
	Removed    int    `json:"removed" example:"0"`
	Skipped    int    `json:"skipped" example:"40"`
	DurationMS int64  `json:"duration_ms" example:"12"`
	Mode       string `json:"mode" example:"incremental"`
}

// RescanFileResponse reports the outcome of a single-file rescan.
type RescanFileResponse struct {
	Path    string `json:"path" example:"/home/me/notes/a.md"`
	Indexed bool   `json:"indexed" example:"true"`
}

// RenameRequest is the request body for renaming a file in place.
type RenameRequest struct {
	Path    string `json:"path" example:"notes/a.md" validate:"required"`
	NewName string `json:"new_name" example:"b.md" validate:"required"`
}

// Validate checks the request fields.
func (r RenameRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.NewName, validation.Required,
			validation.By(func(any) error {
				if strings.ContainsAny(r.NewName, `/\`) {
					return validation.NewError("validation_base_name", "must be a base name")
				}
				return nil
			})),
	)
}

// MoveRequest is the request body for moving a file to another directory.
type MoveRequest struct {
	Path    string `json:"path" example:"notes/a.md" validate:"required"`
	DestDir string `json:"dest_dir" example:"archive" validate:"required"`
}

// Validate checks the request fields.
func (r MoveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.DestDir, validation.Required),
	)
}

// PathResponse carries the resulting path of a rename, move or link lookup.
type PathResponse struct {
	Path string `json:"path" example:"/home/me/notes/b.md" validate:"required"`
}
