// Package tempdesk holds the shared value types for the drop-zone file
// lifecycle core: store entries and the content hashing used to verify
// copies.
package tempdesk

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Entry represents one file tracked by the store, identified by its name
// within the storage folder. Entries are derived from a directory listing
// and are never cached across refreshes.
type Entry struct {
	// Name is the file name, unique within the storage folder.
	Name string `json:"name"`

	// Path is the absolute location of the file (storage folder + name).
	Path string `json:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// ModTime is the last modification timestamp, used to compute age
	// for retention decisions.
	ModTime time.Time `json:"mod_time"`

	// Kind is a display-only classification derived from the extension.
	Kind Kind `json:"kind"`
}

// Age returns how long ago the entry was last modified.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.ModTime)
}

// Kind classifies an entry for display purposes only. It carries no
// lifecycle semantics.
type Kind string

const (
	KindDocument Kind = "document"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindArchive  Kind = "archive"
	KindLink     Kind = "link"
	KindOther    Kind = "other"
)

var kindByExt = map[string]Kind{
	".txt": KindDocument, ".md": KindDocument, ".pdf": KindDocument,
	".doc": KindDocument, ".docx": KindDocument, ".xls": KindDocument,
	".xlsx": KindDocument, ".ppt": KindDocument, ".pptx": KindDocument,
	".csv": KindDocument, ".rtf": KindDocument, ".odt": KindDocument,

	".png": KindImage, ".jpg": KindImage, ".jpeg": KindImage,
	".gif": KindImage, ".bmp": KindImage, ".webp": KindImage,
	".svg": KindImage, ".ico": KindImage, ".tiff": KindImage,

	".mp3": KindAudio, ".wav": KindAudio, ".flac": KindAudio,
	".ogg": KindAudio, ".m4a": KindAudio,

	".mp4": KindVideo, ".mkv": KindVideo, ".avi": KindVideo,
	".mov": KindVideo, ".webm": KindVideo,

	".zip": KindArchive, ".tar": KindArchive, ".gz": KindArchive,
	".7z": KindArchive, ".rar": KindArchive, ".zst": KindArchive,

	".url": KindLink, ".lnk": KindLink, ".desktop": KindLink,
}

// KindForName derives the display kind from a file name's extension.
func KindForName(name string) Kind {
	ext := strings.ToLower(filepath.Ext(name))
	if k, ok := kindByExt[ext]; ok {
		return k
	}
	return KindOther
}

// SortEntries orders entries by name for stable display. The store itself
// guarantees no ordering; callers sort the snapshot they receive.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}
