package util

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ImageExtensions lists the file extensions treated as images, lower case.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".gif", ".webp"}

// IsImageFile reports whether path has a supported image extension.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ExpandImagePaths resolves the command line inputs into image paths.
//
// Files are kept as given, whatever their extension, so a missing or
// unreadable file still reaches the analysis and yields a failed result.
// Directories are replaced by the image files they directly contain, sorted
// by name.
//
// Arguments:
// - inputs: File and directory paths.
//
// Returns:
// - []string: Image paths in input order.
// - error: If a directory cannot be read.
func ExpandImagePaths(inputs []string) ([]string, error) {
	var paths []string
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil || !info.IsDir() {
			paths = append(paths, in)
			continue
		}

		entries, err := os.ReadDir(in)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read directory %s", in)
		}
		var found []string
		for _, entry := range entries {
			if entry.IsDir() || !IsImageFile(entry.Name()) {
				continue
			}
			found = append(found, filepath.Join(in, entry.Name()))
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	return paths, nil
}
