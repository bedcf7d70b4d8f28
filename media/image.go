// Package media probes captured frame images. Decoding reads only the image
// header, so resolution checks over a whole session stay cheap even for large
// frames.
package media

import (
	"fmt"
	"image"
	"io"
	"os"

	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Image format constants as reported by the registered decoders.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWebP = "webp"
)

// Info describes a frame image without decoding its pixels.
type Info struct {
	Width  int
	Height int
	Format string
}

// Resolution renders the dimensions as "640x480".
func (i Info) Resolution() string {
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

// Probe reads the header of an on-disk frame image.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open frame: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads an image header from r.
func Decode(r io.Reader) (Info, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return Info{}, fmt.Errorf("failed to decode frame header: %w", err)
	}
	return Info{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}, nil
}
