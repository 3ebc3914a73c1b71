package frame

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procwatch/proctor-go/internal/errors"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 12))))
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 12)), nil))
	return buf.Bytes()
}

func TestDecodeFormats(t *testing.T) {
	for name, data := range map[string][]byte{"png": pngBytes(t), "jpeg": jpegBytes(t)} {
		t.Run(name, func(t *testing.T) {
			img, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, 16, img.Bounds().Dx())
			assert.Equal(t, 12, img.Bounds().Dy())
		})
	}
}

func TestDecodeCorruptBytes(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryFrameDecode))

	_, err = Decode(nil)
	require.Error(t, err)
}

func TestDecodeBase64(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(pngBytes(t))

	img, err := DecodeBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
}

func TestDecodeBase64DataURL(t *testing.T) {
	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t))

	img, err := DecodeBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
}

func TestDecodeBase64Invalid(t *testing.T) {
	_, err := DecodeBase64("%%%not-base64%%%")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryFrameDecode))
}
