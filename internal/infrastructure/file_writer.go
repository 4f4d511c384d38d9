package infrastructure

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"go.uber.org/zap"

	"mandelbrot-dist/internal/domain"
)

// Bitmap buffers a whole image as rows arrive in any order.
type Bitmap struct {
	width, height int
	rows          [][]bool
	filled        int
}

func NewBitmap(width, height int) *Bitmap {
	return &Bitmap{width: width, height: height, rows: make([][]bool, height)}
}

func (b *Bitmap) Set(res domain.RowResult) error {
	if res.Row < 0 || res.Row >= b.height {
		return fmt.Errorf("%w: row %d, height %d", domain.ErrRowOutOfRange, res.Row, b.height)
	}
	if len(res.Bits) != b.width {
		return fmt.Errorf("%w: row %d has %d columns, want %d", domain.ErrProtocol, res.Row, len(res.Bits), b.width)
	}
	if b.rows[res.Row] == nil {
		b.filled++
	}
	b.rows[res.Row] = res.Bits
	return nil
}

// Complete reports whether every row has been set.
func (b *Bitmap) Complete() bool {
	return b.filled == b.height
}

// At reports whether the pixel is in the set. Missing rows read as outside.
func (b *Bitmap) At(row, col int) bool {
	r := b.rows[row]
	return r != nil && r[col]
}

// WritePBM writes the bitmap as plain PBM (P1): 1 for points in the set.
func WritePBM(w io.Writer, b *Bitmap) error {
	writer := bufio.NewWriter(w)

	fmt.Fprintf(writer, "P1\n%d %d\n", b.width, b.height)
	for row := range b.height {
		for col := range b.width {
			if b.At(row, col) {
				writer.WriteByte('1')
			} else {
				writer.WriteByte('0')
			}
		}
		writer.WriteByte('\n')
	}

	return writer.Flush()
}

// WritePNG writes the bitmap as a black-on-white PNG.
func WritePNG(w io.Writer, b *Bitmap) error {
	palette := color.Palette{color.White, color.Black}
	img := image.NewPaletted(image.Rect(0, 0, b.width, b.height), palette)
	for row := range b.height {
		for col := range b.width {
			if b.At(row, col) {
				img.SetColorIndex(col, row, 1)
			}
		}
	}
	return png.Encode(w, img)
}

// ImageFileWriter is a sink that buffers the image and writes it to a file
// once the run completes.
type ImageFileWriter struct {
	logger   *zap.Logger
	filename string
	encode   func(io.Writer, *Bitmap) error
	bitmap   *Bitmap
}

func NewPBMFileWriter(logger *zap.Logger, filename string, width, height int) *ImageFileWriter {
	return newImageFileWriter(logger, filename, WritePBM, width, height)
}

func NewPNGFileWriter(logger *zap.Logger, filename string, width, height int) *ImageFileWriter {
	return newImageFileWriter(logger, filename, WritePNG, width, height)
}

func newImageFileWriter(logger *zap.Logger, filename string, encode func(io.Writer, *Bitmap) error, width, height int) *ImageFileWriter {
	return &ImageFileWriter{
		logger:   logger,
		filename: filename,
		encode:   encode,
		bitmap:   NewBitmap(width, height),
	}
}

func (w *ImageFileWriter) OnRow(res domain.RowResult) error {
	return w.bitmap.Set(res)
}

func (w *ImageFileWriter) OnComplete(stats domain.RunStats) error {
	if !w.bitmap.Complete() {
		w.logger.Warn("Writing incomplete image",
			zap.String("file", w.filename),
			zap.Int("rows", w.bitmap.filled),
			zap.Int("height", w.bitmap.height))
	}

	file, err := os.Create(w.filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := w.encode(file, w.bitmap); err != nil {
		return fmt.Errorf("write %s: %w", w.filename, err)
	}
	if err := file.Close(); err != nil {
		return err
	}

	w.logger.Info("Successfully written image",
		zap.String("file", w.filename),
		zap.Stringer("run", stats.RunID))
	return nil
}
