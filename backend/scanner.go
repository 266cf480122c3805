package backend

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// recognizedExtensions are the book formats the library cares about,
// compared case-insensitively.
var recognizedExtensions = map[string]bool{
	".epub": true,
	".pdf":  true,
	".cbz":  true,
	".cbr":  true,
}

func isRecognizedBook(name string) bool {
	return recognizedExtensions[strings.ToLower(filepath.Ext(name))]
}

// ScanLibrary walks libraryPath one level deep: top-level files are
// emitted with filename = basename, and for each non-hidden subdirectory
// its contained files are emitted with filename = "subfolder/basename".
// A read error on a single file or on a subdirectory is appended to errs
// but does not abort the scan; a read error on libraryPath itself aborts
// and is returned.
func ScanLibrary(libraryPath string) ([]LocalFileInfo, []string, error) {
	entries, err := os.ReadDir(libraryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("scan library: %w", err)
	}

	var files []LocalFileInfo
	var errs []string

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if strings.HasPrefix(name, ".") {
				continue
			}
			subDir := filepath.Join(libraryPath, name)
			subEntries, err := os.ReadDir(subDir)
			if err != nil {
				errs = append(errs, fmt.Sprintf("scan %s: %v", subDir, err))
				continue
			}
			for _, se := range subEntries {
				if se.IsDir() || !isRecognizedBook(se.Name()) {
					continue
				}
				info, err := scanOne(subDir, se.Name(), name+"/"+se.Name())
				if err != nil {
					errs = append(errs, err.Error())
					continue
				}
				files = append(files, info)
			}
			continue
		}

		if !isRecognizedBook(name) {
			continue
		}
		info, err := scanOne(libraryPath, name, name)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		files = append(files, info)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, errs, nil
}

func scanOne(dir, basename, filename string) (LocalFileInfo, error) {
	abs := filepath.Join(dir, basename)
	f, err := os.Open(abs)
	if err != nil {
		return LocalFileInfo{}, fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()

	h := md5.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return LocalFileInfo{}, fmt.Errorf("hash %s: %w", abs, err)
	}

	lastModified := ""
	if fi, err := f.Stat(); err == nil {
		lastModified = fi.ModTime().UTC().Format(time.RFC3339)
	}

	return LocalFileInfo{
		Filename:     filename,
		AbsolutePath: abs,
		MD5:          hex.EncodeToString(h.Sum(nil)),
		Size:         size,
		LastModified: lastModified,
	}, nil
}
