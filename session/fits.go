package session

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/astrogo/fitsio"
)

// frameStore writes thermal frames as FITS files with an incrementing
// counter, one frame per file
type frameStore struct {
	dir     string
	prefix  string
	counter int
}

func (fs *frameStore) write(frame *image.Gray16, tick int, elapsed time.Duration) error {
	fn := filepath.Join(fs.dir, fmt.Sprintf("%s%06d.fits", fs.prefix, fs.counter))
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	cards := []fitsio.Card{
		{Name: "INSTRUME", Value: "thermal", Comment: "source instrument"},
		{Name: "TICK", Value: tick, Comment: "scheduler tick index"},
		{Name: "ELAPSED", Value: elapsed.Seconds(), Comment: "elapsed run time [s]"},
		{Name: "BUNIT", Value: "cK", Comment: "pixel unit, centikelvin"},
	}
	if err := writeFrameFits(f, frame, cards); err != nil {
		return err
	}
	fs.counter++
	return nil
}

// writeFrameFits streams one Gray16 frame to w as a 16 bit FITS image.
// FITS int16 data carries the conventional BZERO offset of 32768 so the
// unsigned counts survive the signed storage type.
func writeFrameFits(f *os.File, frame *image.Gray16, cards []fitsio.Card) error {
	cards = append(cards,
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0})
	b := frame.Bounds()
	width, height := b.Dx(), b.Dy()

	fits, err := fitsio.Create(f)
	if err != nil {
		return err
	}
	defer fits.Close()

	im := fitsio.NewImage(16, []int{width, height})
	defer im.Close()
	if err := im.Header().Append(cards...); err != nil {
		return err
	}

	ints := make([]int16, width*height)
	for i := 0; i < len(ints); i++ {
		// Gray16 stores big endian
		v := uint16(frame.Pix[2*i])<<8 | uint16(frame.Pix[2*i+1])
		ints[i] = int16(v - 32768)
	}
	if err := im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}
