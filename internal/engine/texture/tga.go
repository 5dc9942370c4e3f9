// Package texture converts source images into megatexture tile pages.
package texture

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

// TGA image types.
const (
	TGATypeUncompressed = 2
	TGATypeRLE          = 10
)

var errTGATruncated = errors.New("tga: truncated data")

func init() {
	// TGA has no magic number; match id length (any), no color map and the
	// true-color image types.
	image.RegisterFormat("tga", "?\x00\x02", DecodeTGAReader, DecodeTGAConfig)
	image.RegisterFormat("tga", "?\x00\x0a", DecodeTGAReader, DecodeTGAConfig)
}

type tgaHeader struct {
	idLength    int
	imageType   byte
	width       int
	height      int
	bpp         int
	topToBottom bool
}

func parseTGAHeader(h []byte) (tgaHeader, error) {
	if len(h) < 18 {
		return tgaHeader{}, errTGATruncated
	}

	hdr := tgaHeader{
		idLength:    int(h[0]),
		imageType:   h[2],
		width:       int(h[12]) | int(h[13])<<8,
		height:      int(h[14]) | int(h[15])<<8,
		bpp:         int(h[16]),
		topToBottom: h[17]&0x20 != 0,
	}

	if h[1] != 0 {
		return tgaHeader{}, fmt.Errorf("tga: color-mapped images not supported")
	}
	if hdr.imageType != TGATypeUncompressed && hdr.imageType != TGATypeRLE {
		return tgaHeader{}, fmt.Errorf("tga: unsupported image type %d", hdr.imageType)
	}
	if hdr.bpp != 24 && hdr.bpp != 32 {
		return tgaHeader{}, fmt.Errorf("tga: unsupported bit depth %d", hdr.bpp)
	}

	return hdr, nil
}

// DecodeTGAConfig returns the dimensions of a TGA image.
func DecodeTGAConfig(r io.Reader) (image.Config, error) {
	h := make([]byte, 18)
	if _, err := io.ReadFull(r, h); err != nil {
		return image.Config{}, errTGATruncated
	}
	hdr, err := parseTGAHeader(h)
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.NRGBAModel, Width: hdr.width, Height: hdr.height}, nil
}

// DecodeTGAReader decodes a TGA image from r.
func DecodeTGAReader(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("tga: %w", err)
	}
	return DecodeTGA(data)
}

// DecodeTGA decodes uncompressed and RLE true-color TGA data.
func DecodeTGA(data []byte) (*image.NRGBA, error) {
	hdr, err := parseTGAHeader(data)
	if err != nil {
		return nil, err
	}

	offset := 18 + hdr.idLength
	if offset > len(data) {
		return nil, errTGATruncated
	}

	d := tgaDecoder{
		hdr: hdr,
		src: data[offset:],
		img: image.NewNRGBA(image.Rect(0, 0, hdr.width, hdr.height)),
		bpp: hdr.bpp / 8,
	}

	if hdr.imageType == TGATypeUncompressed {
		err = d.raw()
	} else {
		err = d.rle()
	}
	if err != nil {
		return nil, err
	}

	return d.img, nil
}

type tgaDecoder struct {
	hdr tgaHeader
	src []byte
	pos int
	img *image.NRGBA
	bpp int
	n   int // pixels written
}

// pixel reads one BGR(A) pixel.
func (d *tgaDecoder) pixel() (color.NRGBA, bool) {
	if d.pos+d.bpp > len(d.src) {
		return color.NRGBA{}, false
	}
	p := d.src[d.pos:]
	c := color.NRGBA{R: p[2], G: p[1], B: p[0], A: 255}
	if d.bpp == 4 {
		c.A = p[3]
	}
	d.pos += d.bpp
	return c, true
}

// put stores the next pixel in file order. Rows are stored bottom-up unless
// the descriptor says otherwise.
func (d *tgaDecoder) put(c color.NRGBA) {
	x := d.n % d.hdr.width
	y := d.n / d.hdr.width
	if !d.hdr.topToBottom {
		y = d.hdr.height - 1 - y
	}
	d.img.SetNRGBA(x, y, c)
	d.n++
}

func (d *tgaDecoder) total() int {
	return d.hdr.width * d.hdr.height
}

func (d *tgaDecoder) raw() error {
	for d.n < d.total() {
		c, ok := d.pixel()
		if !ok {
			return errTGATruncated
		}
		d.put(c)
	}
	return nil
}

func (d *tgaDecoder) rle() error {
	for d.n < d.total() {
		if d.pos >= len(d.src) {
			return errTGATruncated
		}
		packet := d.src[d.pos]
		d.pos++
		count := int(packet&0x7f) + 1

		if packet&0x80 != 0 {
			c, ok := d.pixel()
			if !ok {
				return errTGATruncated
			}
			for i := 0; i < count && d.n < d.total(); i++ {
				d.put(c)
			}
			continue
		}

		for i := 0; i < count && d.n < d.total(); i++ {
			c, ok := d.pixel()
			if !ok {
				return errTGATruncated
			}
			d.put(c)
		}
	}
	return nil
}
