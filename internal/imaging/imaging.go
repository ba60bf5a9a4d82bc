package imaging

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"

	"wingscafe/backend/internal/domain"
)

var (
	ErrImageTooLarge = errors.New("image too large")
	ErrEmptyUpload   = errors.New("empty image upload")
	ErrNotDataURL    = errors.New("image is not a data URL")
)

// Encoder turns raw uploads into self-contained data URLs.
type Encoder struct {
	maxBytes int64
}

func NewEncoder(maxBytes int64) *Encoder {
	return &Encoder{maxBytes: maxBytes}
}

type result struct {
	image domain.EncodedImage
	err   error
}

// Encode resolves upload on a separate goroutine and waits for it or for ctx.
func (e *Encoder) Encode(ctx context.Context, upload domain.RawUpload) (domain.EncodedImage, error) {
	if len(upload.Data) == 0 {
		return "", ErrEmptyUpload
	}
	if e.maxBytes > 0 && int64(len(upload.Data)) > e.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrImageTooLarge, len(upload.Data), e.maxBytes)
	}

	done := make(chan result, 1)
	go func() {
		done <- result{image: encodeDataURL(upload)}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.image, r.err
	}
}

func encodeDataURL(upload domain.RawUpload) domain.EncodedImage {
	mime := strings.TrimSpace(upload.ContentType)
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(upload.Data)
	}
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}

	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mime) + base64.StdEncoding.EncodedLen(len(upload.Data)))
	b.WriteString("data:")
	b.WriteString(mime)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(upload.Data))
	return domain.EncodedImage(b.String())
}

// Decode splits a base64 data URL into its MIME type and payload.
func Decode(img domain.EncodedImage) (string, []byte, error) {
	raw := string(img)
	if !strings.HasPrefix(raw, "data:") {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(raw[len("data:"):], ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, ErrNotDataURL
	}
	mime := strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = "text/plain"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode image payload: %w", err)
	}
	return mime, data, nil
}

// Fingerprint is a BLAKE2b-256 digest of the encoded image, used as its ETag.
func Fingerprint(img domain.EncodedImage) string {
	sum := blake2b.Sum256([]byte(img))
	return hex.EncodeToString(sum[:])
}
