package tagging

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-flac/flacpicture"
)

var ErrUnsupportedImage = errors.New("unsupported image type")

// Cover is cover art that has been fetched and checked, ready to embed.
type Cover struct {
	MimeType string
	Data     []byte
	Width    int
	Height   int

	picture *flacpicture.MetadataBlockPicture
}

func newCover(format Format, data []byte) (*Cover, error) {
	mimeType := http.DetectContentType(data)
	if mimeType != "image/jpeg" && mimeType != "image/png" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, mimeType)
	}
	cover := &Cover{MimeType: mimeType, Data: data}
	if format == FormatFLAC {
		pic, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "", data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("decoding cover: %w", err)
		}
		cover.picture = pic
		cover.Width = int(pic.Width)
		cover.Height = int(pic.Height)
	}
	return cover, nil
}
