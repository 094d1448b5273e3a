// Package models contains shared data models used across the kiko panel codebase.
package models

// ImageEntry is one uploaded training image and its caption.
// Entries are owned exclusively by the state store; PreviewPath points at the
// file written under the panel's uploads directory and is removed together
// with the entry.
type ImageEntry struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	PreviewPath string `json:"preview_path,omitempty"`
	Caption     string `json:"caption"`

	// Data holds the raw image bytes when the store runs without a data
	// directory (memory-only mode). Never serialized.
	Data []byte `json:"-"`
}
