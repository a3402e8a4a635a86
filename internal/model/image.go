package model

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidImage is returned when an EncodedImage is not a base64 data URL.
var ErrInvalidImage = errors.New("invalid encoded image")

// EncodedImage is a self-contained image stored as a data URL
// ("data:<mime>;base64,<payload>").
type EncodedImage string

// NewEncodedImage builds a data URL from raw bytes and their MIME type.
func NewEncodedImage(mimeType string, data []byte) EncodedImage {
	return EncodedImage("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// Decode splits the data URL into its MIME type and raw bytes.
func (img EncodedImage) Decode() (string, []byte, error) {
	rest, ok := strings.CutPrefix(string(img), "data:")
	if !ok {
		return "", nil, ErrInvalidImage
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidImage
	}
	mimeType, ok := strings.CutSuffix(header, ";base64")
	if !ok || mimeType == "" {
		return "", nil, ErrInvalidImage
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.Join(ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return "", nil, ErrInvalidImage
	}
	return mimeType, data, nil
}
