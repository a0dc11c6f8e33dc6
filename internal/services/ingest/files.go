package ingest

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ZoroCRE/cv-analyzer/constants"
)

var reUnsafeName = regexp.MustCompile(`[^a-zA-Z0-9.\-_]`)

// SanitizeFilename keeps letters, digits, dots, dashes and underscores.
func SanitizeFilename(name string) string {
	return reUnsafeName.ReplaceAllString(filepath.Base(name), "_")
}

// AllowedExt checks if a file extension is in the allowed set.
func AllowedExt(ext string) bool {
	return constants.MapExtToFormat(ext) != ""
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// LocalFiles turns file and directory paths into uploads. Directories are
// walked recursively and only files with a supported extension are taken.
// Files named explicitly are always taken.
func LocalFiles(paths []string, skipHidden bool) ([]Upload, error) {
	var out []Upload
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, localUpload(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if skipHidden && path != p && IsHidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
				return nil
			}
			out = append(out, localUpload(path))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return out, nil
}

func localUpload(path string) Upload {
	return Upload{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}
