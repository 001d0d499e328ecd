// Package zip builds and checks the training archives uploaded for a finetune.
package zip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoImages is returned when an archive holds no training image.
var ErrNoImages = errors.New("zip: archive contains no images")

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// IsTrainingFile reports whether name is an image or a caption file.
func IsTrainingFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return imageExts[ext] || ext == ".txt"
}

func isImage(name string) bool {
	return imageExts[strings.ToLower(path.Ext(name))]
}

// ArchiveAssets writes the assets into a zip archive in the given order.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		name := strings.TrimPrefix(path.Clean(filepath.ToSlash(asset.Filename)), "/")
		if name == "." || strings.HasPrefix(name, "../") {
			return nil, fmt.Errorf("zip: invalid asset name %q", asset.Filename)
		}
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

// ArchiveDir zips the images and caption files found directly under dir.
// Other files and subdirectories are skipped.
func ArchiveDir(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("zip: read dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type()&fs.ModeType != 0 || !IsTrainingFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	assets := make([]Asset, 0, len(names))
	images := 0
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("zip: read %s: %w", name, err)
		}
		if isImage(name) {
			images++
		}
		assets = append(assets, Asset{Filename: name, Data: data})
	}
	if images == 0 {
		return nil, ErrNoImages
	}
	return ArchiveAssets(assets)
}

// CountImages opens data as a zip archive and counts its image entries.
func CountImages(data []byte) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("zip: open archive: %w", err)
	}
	n := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		if isImage(f.Name) {
			n++
		}
	}
	return n, nil
}
