package printer

import (
	"bytes"
	"image"
	"strings"
)

const (
	esc = 0x1b
	gs  = 0x1d
	dle = 0x10
	eot = 0x04
)

type Alignment byte

const (
	AlignLeft   Alignment = 0
	AlignCenter Alignment = 1
	AlignRight  Alignment = 2
)

// Builder accumulates an ESC/POS command stream for one ticket.
type Builder struct {
	buf   bytes.Buffer
	width int
}

// NewBuilder starts a stream for a printer with width character columns.
func NewBuilder(width int) *Builder {
	b := &Builder{width: width}
	b.buf.Write([]byte{esc, '@'})
	return b
}

func (b *Builder) Width() int {
	return b.width
}

func (b *Builder) Align(a Alignment) *Builder {
	b.buf.Write([]byte{esc, 'a', byte(a)})
	return b
}

func (b *Builder) Bold(on bool) *Builder {
	var n byte
	if on {
		n = 1
	}
	b.buf.Write([]byte{esc, 'E', n})
	return b
}

// TextSize sets the character magnification, 1 to 8 in each direction.
func (b *Builder) TextSize(w, h int) *Builder {
	w = clamp(w, 1, 8)
	h = clamp(h, 1, 8)
	b.buf.Write([]byte{gs, '!', byte((w-1)<<4 | (h - 1))})
	return b
}

func (b *Builder) Println(s string) *Builder {
	b.buf.WriteString(s)
	b.buf.WriteByte('\n')
	return b
}

func (b *Builder) NewLine() *Builder {
	b.buf.WriteByte('\n')
	return b
}

// DrawLine prints a full-width rule.
func (b *Builder) DrawLine() *Builder {
	return b.Println(strings.Repeat("-", b.width))
}

// Barcode prints data as CODE128 with the human readable text below.
func (b *Builder) Barcode(data string) *Builder {
	if data == "" || len(data) > 253 {
		return b
	}
	b.buf.Write([]byte{gs, 'h', 80})
	b.buf.Write([]byte{gs, 'w', 2})
	b.buf.Write([]byte{gs, 'H', 2})
	b.buf.Write([]byte{gs, 'k', 73, byte(len(data) + 2), '{', 'B'})
	b.buf.WriteString(data)
	b.buf.WriteByte('\n')
	return b
}

// Image prints img as a raster bit image. Pixels darker than mid grey print.
func (b *Builder) Image(img image.Image) *Builder {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return b
	}

	rowBytes := (w + 7) / 8
	b.buf.Write([]byte{gs, 'v', '0', 0,
		byte(rowBytes), byte(rowBytes >> 8),
		byte(h), byte(h >> 8)})

	row := make([]byte, rowBytes)
	for y := 0; y < h; y++ {
		for i := range row {
			row[i] = 0
		}
		for x := 0; x < w; x++ {
			if isDark(img, bounds.Min.X+x, bounds.Min.Y+y) {
				row[x/8] |= 0x80 >> uint(x%8)
			}
		}
		b.buf.Write(row)
	}
	return b
}

// Cut feeds the paper past the cutter and performs a partial cut.
func (b *Builder) Cut() *Builder {
	b.buf.Write([]byte{gs, 'V', 'A', 3})
	return b
}

func (b *Builder) Bytes() []byte {
	return b.buf.Bytes()
}

func isDark(img image.Image, x, y int) bool {
	r, g, bl, a := img.At(x, y).RGBA()
	if a < 0x8000 {
		return false
	}
	lum := (299*r + 587*g + 114*bl) / 1000
	return lum < 0x8000
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
