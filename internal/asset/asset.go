// Package asset defines the domain vocabulary shared by the pipeline
// stages: asset classification, references discovered in the content tree,
// and the processed records the manifest is built from.
package asset

import (
	"path/filepath"
	"strings"
	"time"
)

// Type classifies an asset by how it is served and validated. The set is
// closed: anything not matching the image or binary allow-list is Unknown
// and never enters the pipeline.
type Type int

const (
	TypeUnknown Type = iota
	TypeImage
	TypeBinary
)

func (t Type) String() string {
	switch t {
	case TypeImage:
		return "image"
	case TypeBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Subdir is the published subdirectory for the type: images under
// "images", everything else under "files".
func (t Type) Subdir() string {
	if t == TypeImage {
		return "images"
	}
	return "files"
}

// imageMIMEs and binaryMIMEs are the closed extension allow-lists. Keys
// are lowercase extensions including the dot.
var imageMIMEs = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".avif": "image/avif",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
}

var binaryMIMEs = map[string]string{
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".json": "application/json",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// TypeForPath classifies by extension against the allow-lists.
func TypeForPath(path string) Type {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := imageMIMEs[ext]; ok {
		return TypeImage
	}
	if _, ok := binaryMIMEs[ext]; ok {
		return TypeBinary
	}
	return TypeUnknown
}

// MIMEForPath returns the allow-listed MIME type for the path's extension,
// or application/octet-stream when the extension is not recognized.
func MIMEForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if m, ok := imageMIMEs[ext]; ok {
		return m
	}
	if m, ok := binaryMIMEs[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

// Dimensions is the pixel size of a raster (or declared size of a vector)
// image.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Reference is an asset found during discovery. References live only
// inside a build run and are never persisted.
type Reference struct {
	// SourcePath is the absolute or content-root-relative path on disk.
	SourcePath string
	// RelativePath is the path relative to the content root, including
	// the locale/version/assets prefix. It is the manifest key.
	RelativePath string
	Locale       string
	Version      string
	Type         Type
	// ReferencedBy lists documents that reference this asset, when known.
	ReferencedBy []string
}

// Derivative is a generated rendition of an image asset (responsive
// variant or modern-format conversion). Data carries the generated bytes
// from the optimizer to the publisher and is never serialized.
type Derivative struct {
	Variant        string      `json:"variant"`
	PublicPath     string      `json:"publicPath"`
	HashedFilename string      `json:"hashedFilename"`
	FileSize       int64       `json:"fileSize"`
	Dimensions     *Dimensions `json:"dimensions,omitempty"`

	Data []byte `json:"-"`
}

// Processed is a Reference after hashing and enrichment. Identical bytes
// at the same relative path always produce an identical record.
type Processed struct {
	Reference

	PublicPath     string
	HashedFilename string
	ContentHash    string
	FileSize       int64
	MimeType       string
	Dimensions     *Dimensions
	Derivatives    []Derivative

	// LastModified is the source file's mtime, carried into manifest
	// metadata. Stable for unchanged input.
	LastModified time.Time
	// Optimized records whether the image optimizer ran successfully.
	Optimized bool
	// SecurityScanned is set by the pipeline once validation has passed.
	SecurityScanned bool
}
