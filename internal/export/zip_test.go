package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-studio/backend/internal/gemini"
	"comic-studio/backend/internal/images"
	"comic-studio/backend/internal/models"
)

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "My_Comic_Strip_panels.zip", ArchiveName("My Comic Strip"))
	assert.Equal(t, "a_b_panels.zip", ArchiveName("  a \t b "))
	assert.Equal(t, "comic_panels.zip", ArchiveName(""))
}

func TestComicZip(t *testing.T) {
	panels := models.PanelSequence{
		{Panel: 1, Scene: "park"},
		{Panel: 2, Scene: "park"},
		{Panel: 3, Scene: "park"},
	}
	imgs := []images.PanelImage{
		{Panel: 1, Status: images.StatusReady, ImageURL: gemini.EncodeDataURI("image/png", []byte("one"))},
		{Panel: 2, Status: images.StatusFailed, Error: images.FailureMessage},
		{Panel: 3, Status: images.StatusReady, ImageURL: gemini.EncodeDataURI("image/jpeg", []byte("three"))},
	}

	blobs, err := ComicBlobs("My Comic Strip", "Cat: Hi!", panels, imgs)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteZip(&buf, blobs))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = data
	}

	assert.Equal(t, []byte("one"), files["panel-1.png"])
	assert.Equal(t, []byte("three"), files["panel-3.jpg"])
	assert.NotContains(t, files, "panel-2.bin")
	require.Contains(t, files, "comic.json")

	var manifest Manifest
	require.NoError(t, json.Unmarshal(files["comic.json"], &manifest))
	assert.Equal(t, "Cat: Hi!", manifest.Script)
	assert.Len(t, manifest.Panels, 3)
	assert.Equal(t, []int{2}, manifest.Missing)
}

func TestComicBlobsRequiresPanels(t *testing.T) {
	_, err := ComicBlobs("t", "s", nil, nil)
	assert.ErrorIs(t, err, ErrNothingToExport)
}

func TestComicBlobsRejectsBadImage(t *testing.T) {
	_, err := ComicBlobs("t", "s",
		models.PanelSequence{{Panel: 1}},
		[]images.PanelImage{{Panel: 1, Status: images.StatusReady, ImageURL: "https://example.com/x.png"}},
	)
	assert.ErrorIs(t, err, gemini.ErrInvalidDataURI)
}
