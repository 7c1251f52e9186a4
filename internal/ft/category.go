package ft

import (
	"path/filepath"
	"strings"
)

var categoryByExt = map[string]Category{
	".pdf":  CategoryDocuments,
	".doc":  CategoryDocuments,
	".docx": CategoryDocuments,
	".txt":  CategoryDocuments,
	".md":   CategoryDocuments,
	".jpg":  CategoryImages,
	".jpeg": CategoryImages,
	".png":  CategoryImages,
	".gif":  CategoryImages,
	".mp4":  CategoryVideos,
	".mov":  CategoryVideos,
	".avi":  CategoryVideos,
	".mkv":  CategoryVideos,
	".mp3":  CategoryAudio,
	".wav":  CategoryAudio,
	".flac": CategoryAudio,
	".zip":  CategoryArchives,
	".tar":  CategoryArchives,
	".gz":   CategoryArchives,
	".rar":  CategoryArchives,
}

// CategoryFor classifies a file name by its extension, case-insensitively.
func CategoryFor(name string) Category {
	if c, ok := categoryByExt[strings.ToLower(filepath.Ext(name))]; ok {
		return c
	}
	return CategoryOthers
}

// IsImage reports whether name has an image extension.
func IsImage(name string) bool {
	return CategoryFor(name) == CategoryImages
}

// MediaType returns the MIME type for an image name, or "" if it is not one.
func MediaType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	}
	return ""
}
