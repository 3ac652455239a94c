// Package qr encodes encrypted key backups as QR codes and reads them back.
package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	skipqr "github.com/skip2/go-qrcode"
)

const (
	// MaxImageSize is the largest image Decode accepts (5 MiB).
	MaxImageSize = 5 << 20

	// ImageSize is the edge length in pixels of generated PNGs.
	ImageSize = 512
)

// QR errors.
var (
	ErrImageTooLarge     = errors.New("image exceeds 5 MiB limit")
	ErrUnsupportedFormat = errors.New("only PNG and JPEG images are supported")
	ErrNoQRCode          = errors.New("no QR code found in image")
	ErrInvalidPayload    = errors.New("QR code does not contain an encrypted key")
	ErrEmptyPayload      = errors.New("nothing to encode")
)

var payloadPattern = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// Encode renders payload as a PNG QR code with medium error correction.
func Encode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	png, err := skipqr.Encode(payload, skipqr.Medium, ImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}

// WriteFile encodes payload and writes the PNG to path.
func WriteFile(path, payload string) error {
	png, err := Encode(payload)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return fmt.Errorf("failed to write QR image: %w", err)
	}
	return nil
}

// Decode reads a QR code from PNG or JPEG bytes and returns its payload.
// The payload must look like a base64 key blob.
func Decode(data []byte) (string, error) {
	if len(data) > MaxImageSize {
		return "", ErrImageTooLarge
	}

	switch http.DetectContentType(data) {
	case "image/png", "image/jpeg":
	default:
		return "", ErrUnsupportedFormat
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	result, err := zxingqr.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", ErrNoQRCode
	}

	payload := strings.TrimSpace(result.GetText())
	if !ValidPayload(payload) {
		return "", ErrInvalidPayload
	}
	return payload, nil
}

// ReadFile decodes the QR code in the image at path.
func ReadFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat image: %w", err)
	}
	if info.Size() > MaxImageSize {
		return "", ErrImageTooLarge
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return Decode(data)
}

// ValidPayload reports whether s is shaped like standard padded base64.
func ValidPayload(s string) bool {
	return s != "" && len(s)%4 == 0 && payloadPattern.MatchString(s)
}
