// Package frame decodes incoming webcam frame payloads. Corrupt frames are a
// frame-level error for the caller, they never advance violation counters.
package frame

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"strings"

	"github.com/procwatch/proctor-go/internal/errors"
)

// Decode parses raw frame bytes into an image.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.Newf("empty frame payload").
			Component("frame").
			Category(errors.CategoryFrameDecode).
			Build()
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(err).
			Component("frame").
			Category(errors.CategoryFrameDecode).
			Context("payload_bytes", len(data)).
			Build()
	}
	return img, nil
}

// DecodeBase64 parses a base64 frame payload as sent by browser clients.
// Data URL prefixes ("data:image/jpeg;base64,...") are tolerated.
func DecodeBase64(payload string) (image.Image, error) {
	if idx := strings.IndexByte(payload, ','); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.New(err).
			Component("frame").
			Category(errors.CategoryFrameDecode).
			Context("encoding", "base64").
			Build()
	}
	return Decode(data)
}
