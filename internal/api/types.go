// Package api implements the HTTP client for the remote storage backend.
package api

import (
	"fmt"

	"github.com/breezedrive/breezedrive/pkg/models"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// APIError is a decoded backend error.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// DiskListResponse is returned by GET /api/v1/disks.
type DiskListResponse struct {
	Disks []*models.Disk `json:"disks"`
}

// FileListResponse is returned by the file listing and search endpoints.
type FileListResponse struct {
	Files []*models.FileItem `json:"files"`
}

// FileResponse wraps a single file item.
type FileResponse struct {
	File *models.FileItem `json:"file"`
}

// CreateFolderRequest is the body for POST /api/v1/folders.
type CreateFolderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	DiskID   string `json:"disk_id"`
}

// CreateNoteRequest is the body for POST /api/v1/notes.
type CreateNoteRequest struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	ParentID string `json:"parent_id,omitempty"`
	DiskID   string `json:"disk_id"`
}

// CreateURLRequest is the body for POST /api/v1/urls.
type CreateURLRequest struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	ParentID string `json:"parent_id,omitempty"`
	DiskID   string `json:"disk_id"`
}

// RenameRequest is the body for PATCH /api/v1/files/{id}/name.
type RenameRequest struct {
	Name string `json:"name"`
}

// PinRequest is the body for PATCH /api/v1/files/{id}/pin.
type PinRequest struct {
	Pinned bool `json:"pinned"`
}

// TransferRequest is the body for the move and copy endpoints.
type TransferRequest struct {
	IDs            []string `json:"ids"`
	TargetDiskID   string   `json:"target_disk_id"`
	TargetParentID string   `json:"target_parent_id,omitempty"`
}

// PresignRequest is the body for POST /api/v1/uploads.
type PresignRequest struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	ParentID string `json:"parent_id,omitempty"`
	DiskID   string `json:"disk_id"`
	DeviceID string `json:"device_id,omitempty"`
}

// PresignResponse holds the presigned upload target.
type PresignResponse struct {
	FileID    string `json:"file_id"`
	UploadURL string `json:"upload_url"`
}

// RefreshURLResponse is returned by POST /api/v1/files/{id}/refresh-url.
type RefreshURLResponse struct {
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// CreateDiskRequest is the body for POST /api/v1/disks.
type CreateDiskRequest struct {
	Name  string          `json:"name"`
	Total float64         `json:"total"`
	Unit  models.SizeUnit `json:"unit"`
}

// ResizeDiskRequest is the body for PATCH /api/v1/disks/{id}/size.
type ResizeDiskRequest struct {
	Total float64         `json:"total"`
	Unit  models.SizeUnit `json:"unit"`
}

// MergeDisksRequest is the body for POST /api/v1/disks/merge.
type MergeDisksRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// UsageResponse is returned by the user quota endpoints.
type UsageResponse struct {
	Usage models.Usage `json:"usage"`
}
