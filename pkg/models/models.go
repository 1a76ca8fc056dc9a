// Package models contains the shared data types of the drive client.
package models

import (
	"path/filepath"
	"strings"
	"time"
)

// SizeUnit is the unit a size value is expressed in.
type SizeUnit string

const (
	UnitB  SizeUnit = "B"
	UnitKB SizeUnit = "KB"
	UnitMB SizeUnit = "MB"
	UnitGB SizeUnit = "GB"
	UnitTB SizeUnit = "TB"
	UnitPB SizeUnit = "PB"
)

// Bytes returns the number of bytes one unit represents.
func (u SizeUnit) Bytes() float64 {
	switch u {
	case UnitKB:
		return 1 << 10
	case UnitMB:
		return 1 << 20
	case UnitGB:
		return 1 << 30
	case UnitTB:
		return 1 << 40
	case UnitPB:
		return 1 << 50
	default:
		return 1
	}
}

// ItemKind classifies a file item for presentation and filtering.
type ItemKind string

const (
	KindPicture  ItemKind = "picture"
	KindVideo    ItemKind = "video"
	KindAudio    ItemKind = "audio"
	KindDocument ItemKind = "document"
	KindNote     ItemKind = "note"
	KindURL      ItemKind = "url"
	KindFolder   ItemKind = "folder"
	KindOthers   ItemKind = "others"
)

var kindByExt = map[string]ItemKind{
	".jpg": KindPicture, ".jpeg": KindPicture, ".png": KindPicture,
	".gif": KindPicture, ".webp": KindPicture, ".bmp": KindPicture,
	".svg": KindPicture, ".heic": KindPicture,
	".mp4": KindVideo, ".mov": KindVideo, ".mkv": KindVideo,
	".avi": KindVideo, ".webm": KindVideo,
	".mp3": KindAudio, ".wav": KindAudio, ".flac": KindAudio,
	".ogg": KindAudio, ".m4a": KindAudio,
	".pdf": KindDocument, ".doc": KindDocument, ".docx": KindDocument,
	".xls": KindDocument, ".xlsx": KindDocument, ".ppt": KindDocument,
	".pptx": KindDocument, ".txt": KindDocument, ".csv": KindDocument,
	".md": KindNote,
}

// KindForName derives the item kind from a file name's extension.
func KindForName(name string) ItemKind {
	ext := strings.ToLower(filepath.Ext(name))
	if kind, ok := kindByExt[ext]; ok {
		return kind
	}
	return KindOthers
}

// FileItem is a file or folder node. In the flat representation Children is
// always nil and parent relationships are expressed via ParentID; in the tree
// representation every folder carries a Children slice (possibly empty).
// An empty ParentID means the item sits at the disk root.
type FileItem struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Kind       ItemKind    `json:"kind"`
	IsFolder   bool        `json:"is_folder"`
	Size       float64     `json:"size,omitempty"`
	SizeUnit   SizeUnit    `json:"size_unit,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	ModifiedAt time.Time   `json:"modified_at"`
	ParentID   string      `json:"parent_id,omitempty"`
	DiskID     string      `json:"disk_id"`
	Children   []*FileItem `json:"children,omitempty"`
	Thumbnail  string      `json:"thumbnail,omitempty"`
	URL        string      `json:"url,omitempty"`
	DeviceID   string      `json:"device_id,omitempty"`
	IsPinned   bool        `json:"is_pinned,omitempty"`
}

// Clone returns a shallow copy with the Children field stripped.
func (f *FileItem) Clone() *FileItem {
	c := *f
	c.Children = nil
	return &c
}

// Usage describes capacity accounting for a disk or a user.
type Usage struct {
	Total float64  `json:"total"`
	Used  float64  `json:"used"`
	Unit  SizeUnit `json:"unit"`
}

// Disk is a named partition of storage with its own capacity and file tree.
// FilteredFiles, when non-nil, is a flat list replacing the tree for read
// purposes while a kind filter is active.
type Disk struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Usage         Usage       `json:"usage"`
	CreatedAt     time.Time   `json:"created_at"`
	Files         []*FileItem `json:"files"`
	FilteredFiles []*FileItem `json:"filtered_files,omitempty"`
}

// ClipboardOp tags the pending clipboard operation.
type ClipboardOp string

const (
	ClipboardNone ClipboardOp = "none"
	ClipboardCopy ClipboardOp = "copy"
	ClipboardCut  ClipboardOp = "cut"
)

// Clipboard holds ids staged for a paste. Cleared after a successful paste.
type Clipboard struct {
	IDs []string    `json:"ids"`
	Op  ClipboardOp `json:"op"`
}
