package imagecache

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/h2non/filetype"
	_ "golang.org/x/image/webp"

	"unfurl/internal/domain"
)

// Image is a decoded image together with the encoded bytes it came from.
type Image struct {
	image.Image
	Format string
	Data   []byte
}

// Decode sniffs data and decodes it. Non-image payloads (an HTML error page
// served with 200, say) fail with domain.ErrDecodeFailure.
func Decode(data []byte) (*Image, error) {
	if !filetype.IsImage(data) {
		return nil, fmt.Errorf("%w: payload is not an image", domain.ErrDecodeFailure)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecodeFailure, err)
	}
	return &Image{Image: img, Format: format, Data: data}, nil
}
