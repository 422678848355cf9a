// Package models defines the data structures shared by indexing, storage and search.
package models

// Document is a decoded text document as delivered by a storage provider.
// The pipeline never mutates a Document.
type Document struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content,omitempty"`
}

// Entry types reported by providers.
const (
	EntryTypeFile   = "file"
	EntryTypeFolder = "folder"
)

// FileEntry is one item of a provider folder listing.
type FileEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
}

// IsFolder reports whether the entry is a folder.
func (e *FileEntry) IsFolder() bool {
	return e.Type == EntryTypeFolder
}

// Chunk is a contiguous piece of a document's text.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// IndexResult reports the outcome of indexing one document.
type IndexResult struct {
	DocumentID string   `json:"document_id"`
	Chunks     int      `json:"chunks"`
	Persisted  int      `json:"persisted"`
	Skipped    int      `json:"skipped"`
	Failed     []string `json:"failed,omitempty"`
}

// Success reports whether at least one point of the document was stored.
func (r *IndexResult) Success() bool {
	return r != nil && r.Persisted > 0
}
