package models

import (
	"strings"

	"gorm.io/gorm"
)

// Document field names
const (
	DocumentExternalIDField = "external_id"
	DocumentSourceFileField = "source_file"
)

// Document is a paper whose source can be rendered. Metadata ingestion and
// source download populate it; the render service only reads it.
type Document struct {
	gorm.Model
	// ExternalID is the catalog identifier, e.g. an arXiv id.
	ExternalID string `json:"external_id" gorm:"not null;uniqueIndex"`
	Title      string `json:"title"`
	// SourceFile is the storage key of the downloaded source archive.
	SourceFile string `json:"source_file,omitempty"`
}

var nonRenderableSuffixes = []string{".pdf", ".ps.gz", ".dvi.gz"}

// IsRenderable reports whether the source is an archive the engine can
// convert. PDFs and other print formats are not.
func (d *Document) IsRenderable() bool {
	if d.SourceFile == "" {
		return false
	}
	for _, suffix := range nonRenderableSuffixes {
		if strings.HasSuffix(d.SourceFile, suffix) {
			return false
		}
	}
	return strings.HasSuffix(d.SourceFile, ".tar.gz") || strings.HasSuffix(d.SourceFile, ".gz")
}

// OutputName is the external id in a form usable as a storage path segment.
func (d *Document) OutputName() string {
	return strings.ReplaceAll(d.ExternalID, "/", "")
}
