// Package metadata reads capture metadata from image files and prepares image
// bytes for the encoder.
package metadata

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// Well-known keys written by Extract and the processor.
const (
	KeyDateTime         = "DateTime"
	KeyDateTimeOriginal = "DateTimeOriginal"
	KeyOrientation      = "Orientation"
	KeyImagePath        = "ImagePath"
	KeyImageName        = "ImageName"
)

// Metadata maps EXIF field names to their textual values.
type Metadata map[string]string

// Orientation returns the EXIF orientation tag, or 0 when absent or invalid.
func (m Metadata) Orientation() int {
	v, err := strconv.Atoi(m[KeyOrientation])
	if err != nil {
		return 0
	}
	return v
}

// collector gathers printable EXIF tags. Binary (undefined) tags such as
// MakerNote are skipped.
type collector struct {
	out Metadata
}

func (c *collector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	switch tag.Format() {
	case tiff.StringVal:
		s, err := tag.StringVal()
		if err != nil {
			return nil
		}
		s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
		if s != "" {
			c.out[string(name)] = s
		}
	case tiff.IntVal:
		if tag.Count == 1 {
			if v, err := tag.Int(0); err == nil {
				c.out[string(name)] = strconv.Itoa(v)
			}
			return nil
		}
		c.out[string(name)] = tag.String()
	case tiff.RatVal, tiff.FloatVal:
		c.out[string(name)] = tag.String()
	}
	return nil
}

// Extract decodes the EXIF block of an image. Images without EXIF data yield
// empty metadata; timestamps are left in their raw YYYY:MM:DD HH:MM:SS form.
func Extract(data []byte) Metadata {
	md := make(Metadata)

	x, err := exif.Decode(bytes.NewReader(data))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return md
	}

	return collect(x)
}

type tagWalker interface {
	Walk(exif.Walker) error
}

// collect gathers every printable tag. A failed walk yields empty metadata
// rather than a partial set.
func collect(w tagWalker) Metadata {
	md := make(Metadata)
	if err := w.Walk(&collector{out: md}); err != nil {
		return make(Metadata)
	}
	return md
}
