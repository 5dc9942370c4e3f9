package texture

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/Faultbox/megatex/internal/megatexture"
)

// Tile page geometry.
const (
	TileSize  = megatexture.TileTexels
	TileBytes = megatexture.TileBytes
)

// RGBA5551 is a 16-bit color: five bits per color channel and one alpha bit,
// packed as RRRRRGGGGGBBBBBA.
type RGBA5551 uint16

// RGBA implements color.Color.
func (c RGBA5551) RGBA() (r, g, b, a uint32) {
	expand := func(v uint16) uint32 {
		v &= 0x1f
		v8 := uint32(v<<3 | v>>2)
		return v8 | v8<<8
	}

	if c&1 == 0 {
		return 0, 0, 0, 0
	}
	return expand(uint16(c) >> 11), expand(uint16(c) >> 6), expand(uint16(c) >> 1), 0xffff
}

// RGBA5551Model converts colors to RGBA5551. Pixels below half opacity
// become fully transparent.
var RGBA5551Model = color.ModelFunc(func(c color.Color) color.Color {
	if c, ok := c.(RGBA5551); ok {
		return c
	}
	return ToRGBA5551(color.NRGBAModel.Convert(c).(color.NRGBA))
})

// ToRGBA5551 quantizes a non-premultiplied color.
func ToRGBA5551(c color.NRGBA) RGBA5551 {
	if c.A < 128 {
		return 0
	}
	return RGBA5551(uint16(c.R>>3)<<11 | uint16(c.G>>3)<<6 | uint16(c.B>>3)<<1 | 1)
}

// EncodeTile writes tile (tx, ty) of img into dst as little-endian RGBA5551.
// Texels outside the image repeat the nearest edge texel. dst must hold
// TileBytes.
func EncodeTile(img image.Image, tx, ty int, dst []byte) {
	b := img.Bounds()

	for y := 0; y < TileSize; y++ {
		sy := min(b.Min.Y+ty*TileSize+y, b.Max.Y-1)
		for x := 0; x < TileSize; x++ {
			sx := min(b.Min.X+tx*TileSize+x, b.Max.X-1)
			c := color.NRGBAModel.Convert(img.At(sx, sy)).(color.NRGBA)
			binary.LittleEndian.PutUint16(dst[(y*TileSize+x)*2:], uint16(ToRGBA5551(c)))
		}
	}
}

// DecodeTile expands a tile page into an image.
func DecodeTile(data []byte) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))
	for i := 0; i < TileSize*TileSize; i++ {
		c := RGBA5551(binary.LittleEndian.Uint16(data[i*2:]))
		img.Set(i%TileSize, i/TileSize, c)
	}
	return img
}

// TileCount returns how many tiles cover size texels.
func TileCount(size int) int {
	return max((size+TileSize-1)/TileSize, 1)
}

// EncodeTiles slices img into row-major tile pages.
func EncodeTiles(img image.Image) (xTiles, yTiles int, data []byte) {
	b := img.Bounds()
	xTiles = TileCount(b.Dx())
	yTiles = TileCount(b.Dy())

	data = make([]byte, xTiles*yTiles*TileBytes)
	for ty := 0; ty < yTiles; ty++ {
		for tx := 0; tx < xTiles; tx++ {
			EncodeTile(img, tx, ty, data[(tx+ty*xTiles)*TileBytes:])
		}
	}
	return xTiles, yTiles, data
}

// DecodeTiles assembles row-major tile pages into one image.
func DecodeTiles(xTiles, yTiles int, data []byte) (*image.NRGBA, error) {
	if len(data) < xTiles*yTiles*TileBytes {
		return nil, fmt.Errorf("%d bytes hold fewer than %dx%d tiles", len(data), xTiles, yTiles)
	}

	img := image.NewNRGBA(image.Rect(0, 0, xTiles*TileSize, yTiles*TileSize))
	for ty := 0; ty < yTiles; ty++ {
		for tx := 0; tx < xTiles; tx++ {
			tile := DecodeTile(data[(tx+ty*xTiles)*TileBytes:])
			r := image.Rect(tx*TileSize, ty*TileSize, (tx+1)*TileSize, (ty+1)*TileSize)
			draw.Draw(img, r, tile, image.Point{}, draw.Src)
		}
	}
	return img, nil
}

// ToNRGBA copies img into a new NRGBA image with its origin at (0, 0).
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// ApplyColorKey makes every pixel within tolerance of key transparent and
// blacks out its color so filtering does not bleed it into neighbors.
func ApplyColorKey(img *image.NRGBA, key color.NRGBA, tolerance uint8) {
	near := func(a, b uint8) bool {
		if a > b {
			return a-b <= tolerance
		}
		return b-a <= tolerance
	}

	for i := 0; i+3 < len(img.Pix); i += 4 {
		p := img.Pix[i : i+4 : i+4]
		if near(p[0], key.R) && near(p[1], key.G) && near(p[2], key.B) {
			p[0], p[1], p[2], p[3] = 0, 0, 0, 0
		}
	}
}
