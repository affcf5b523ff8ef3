package export

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"comic-studio/backend/internal/gemini"
	"comic-studio/backend/internal/images"
	"comic-studio/backend/internal/models"
)

// ErrNothingToExport is returned when a comic has no panels
var ErrNothingToExport = errors.New("no comic panels to download")

const manifestName = "comic.json"

// Blob is one named file inside an archive
type Blob struct {
	Name string
	Data []byte
}

// Manifest describes an exported comic
type Manifest struct {
	Title      string               `json:"title"`
	Script     string               `json:"script"`
	Panels     models.PanelSequence `json:"panels"`
	Missing    []int                `json:"missing_images,omitempty"`
	ExportedAt time.Time            `json:"exported_at"`
}

// ArchiveName derives the download file name from a comic title
func ArchiveName(title string) string {
	name := strings.Join(strings.Fields(title), "_")
	if name == "" {
		name = "comic"
	}
	return name + "_panels.zip"
}

// WriteZip writes blobs as a single ZIP archive
func WriteZip(w io.Writer, blobs []Blob) error {
	zw := zip.NewWriter(w)
	for _, b := range blobs {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     b.Name,
			Method:   zip.Deflate,
			Modified: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", b.Name, err)
		}
		if _, err := f.Write(b.Data); err != nil {
			return fmt.Errorf("failed to write %s: %w", b.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

// ComicBlobs turns a comic into panel-N.<ext> files for every ready image plus a manifest
func ComicBlobs(title, script string, panels models.PanelSequence, imgs []images.PanelImage) ([]Blob, error) {
	if len(panels) == 0 {
		return nil, ErrNothingToExport
	}

	byPanel := make(map[int]images.PanelImage, len(imgs))
	for _, img := range imgs {
		byPanel[img.Panel] = img
	}

	manifest := Manifest{
		Title:      title,
		Script:     script,
		Panels:     panels,
		ExportedAt: time.Now().UTC(),
	}

	blobs := make([]Blob, 0, len(panels)+1)
	for _, p := range panels {
		img, ok := byPanel[p.Panel]
		if !ok || img.Status != images.StatusReady {
			manifest.Missing = append(manifest.Missing, p.Panel)
			continue
		}
		mimeType, data, err := gemini.DecodeDataURI(img.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("panel %d: %w", p.Panel, err)
		}
		blobs = append(blobs, Blob{
			Name: fmt.Sprintf("panel-%d.%s", p.Panel, Extension(mimeType)),
			Data: data,
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return append(blobs, Blob{Name: manifestName, Data: data}), nil
}

// Extension maps an image MIME type to a file extension
func Extension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "bin"
	}
}
