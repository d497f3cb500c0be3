package llm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageSourceBytes(t *testing.T) {
	t.Run("inline data", func(t *testing.T) {
		src := &ImageSource{Type: "base64", Data: []byte{1, 2, 3}}
		data, err := src.Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, data)
	})

	t.Run("file backed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "img.png")
		require.NoError(t, os.WriteFile(path, []byte("pixels"), 0644))

		src := &ImageSource{Type: "file", Path: path}
		data, err := src.Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte("pixels"), data)
	})

	t.Run("missing file", func(t *testing.T) {
		src := &ImageSource{Type: "file", Path: filepath.Join(t.TempDir(), "gone.png")}
		_, err := src.Bytes()
		assert.Error(t, err)
	})

	t.Run("url only", func(t *testing.T) {
		src := &ImageSource{Type: "url", URL: "https://example.com/a.png"}
		data, err := src.Bytes()
		require.NoError(t, err)
		assert.Nil(t, data)
	})
}
