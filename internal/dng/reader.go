package dng

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// TIFF/DNG tags the reader cares about.
const (
	tagNewSubfileType      = 254
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagSubIFDs             = 330
	tagCFARepeatPatternDim = 33421
	tagCFAPattern          = 33422
	tagExposureTime        = 33434
	tagExifIFD             = 34665
	tagISOSpeedRatings     = 34855
	tagExposureBiasValue   = 37380
	tagDNGVersion          = 50706
	tagBlackLevelRepeatDim = 50713
	tagBlackLevel          = 50714
	tagBlackLevelDeltaH    = 50715
	tagBlackLevelDeltaV    = 50716
	tagWhiteLevel          = 50717
	tagAsShotNeutral       = 50728
	tagMaskedAreas         = 50830
)

const (
	photometricCFA    = 32803
	compressionNone   = 1
	typeByte          = 1
	typeShort         = 3
	typeLong          = 4
	typeRational      = 5
	typeSRational     = 10
	typeSShort        = 8
	typeSLong         = 9
	typeDouble        = 12
)

var typeSizes = map[uint16]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

type ifdEntry struct {
	typ   uint16
	count uint32
	value []byte // raw value bytes, already resolved through the offset
}

type tiffFile struct {
	data  []byte
	order binary.ByteOrder
}

// ReadFrame parses a raw container file and extracts the pixel buffer plus
// the calibration metadata of the §4.1 contract. Missing mosaic or
// linearization metadata yields ErrMalformedMetadata.
func ReadFrame(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read raw container: %w", err)
	}
	frame, err := parseFrame(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	frame.Path = path
	return frame, nil
}

func parseFrame(data []byte) (*Frame, error) {
	tf, firstIFD, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	ifd0, err := tf.parseIFD(firstIFD)
	if err != nil {
		return nil, err
	}

	// The main raw image may live in IFD0 or behind a SubIFD pointer when
	// IFD0 only carries a reduced preview.
	raw := ifd0
	if !isRawIFD(ifd0) {
		if sub, ok := ifd0[tagSubIFDs]; ok {
			for _, off := range tf.uintValues(sub) {
				cand, err := tf.parseIFD(uint32(off))
				if err != nil {
					continue
				}
				if isRawIFD(cand) {
					raw = cand
					break
				}
			}
		}
	}
	if !isRawIFD(raw) {
		return nil, fmt.Errorf("%w: no CFA raw image found", ErrMalformedMetadata)
	}

	// EXIF tags may sit in IFD0 directly or behind the Exif IFD pointer.
	exif := ifd0
	if ptr, ok := ifd0[tagExifIFD]; ok {
		if sub, err := tf.parseIFD(uint32(tf.uintValue(ptr))); err == nil {
			merged := make(map[uint16]ifdEntry, len(ifd0)+len(sub))
			for k, v := range ifd0 {
				merged[k] = v
			}
			for k, v := range sub {
				merged[k] = v
			}
			exif = merged
		}
	}

	frame := &Frame{}
	if err := tf.extractGeometry(raw, frame); err != nil {
		return nil, err
	}
	if err := tf.extractMosaic(raw, ifd0, frame); err != nil {
		return nil, err
	}
	if err := tf.extractLinearization(raw, ifd0, frame); err != nil {
		return nil, err
	}
	tf.extractMaskedAreas(raw, ifd0, frame)
	if err := tf.extractColorFactors(ifd0, frame); err != nil {
		return nil, err
	}
	tf.extractExif(exif, frame)
	if err := tf.extractPixels(raw, frame); err != nil {
		return nil, err
	}
	return frame, frame.validate()
}

func parseHeader(data []byte) (*tiffFile, uint32, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("%w: truncated header", ErrMalformedMetadata)
	}
	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, 0, fmt.Errorf("%w: not a TIFF container", ErrMalformedMetadata)
	}
	tf := &tiffFile{data: data, order: order}
	if tf.order.Uint16(data[2:]) != 42 {
		return nil, 0, fmt.Errorf("%w: bad TIFF magic", ErrMalformedMetadata)
	}
	return tf, tf.order.Uint32(data[4:]), nil
}

func (tf *tiffFile) parseIFD(offset uint32) (map[uint16]ifdEntry, error) {
	if int(offset)+2 > len(tf.data) {
		return nil, fmt.Errorf("%w: IFD offset out of range", ErrMalformedMetadata)
	}
	count := int(tf.order.Uint16(tf.data[offset:]))
	entries := make(map[uint16]ifdEntry, count)
	pos := int(offset) + 2
	for i := 0; i < count; i++ {
		if pos+12 > len(tf.data) {
			return nil, fmt.Errorf("%w: truncated IFD", ErrMalformedMetadata)
		}
		tag := tf.order.Uint16(tf.data[pos:])
		typ := tf.order.Uint16(tf.data[pos+2:])
		n := tf.order.Uint32(tf.data[pos+4:])
		size, ok := typeSizes[typ]
		if !ok {
			pos += 12
			continue
		}
		total := size * int(n)
		var value []byte
		if total <= 4 {
			value = tf.data[pos+8 : pos+8+total]
		} else {
			off := int(tf.order.Uint32(tf.data[pos+8:]))
			if off+total > len(tf.data) {
				return nil, fmt.Errorf("%w: tag %d value out of range", ErrMalformedMetadata, tag)
			}
			value = tf.data[off : off+total]
		}
		entries[tag] = ifdEntry{typ: typ, count: n, value: value}
		pos += 12
	}
	return entries, nil
}

func isRawIFD(ifd map[uint16]ifdEntry) bool {
	_, hasCFA := ifd[tagCFAPattern]
	return hasCFA
}

func (tf *tiffFile) uintValue(e ifdEntry) uint64 {
	vals := tf.uintValues(e)
	if len(vals) == 0 {
		return 0
	}
	return vals[0]
}

func (tf *tiffFile) uintValues(e ifdEntry) []uint64 {
	out := make([]uint64, 0, e.count)
	size := typeSizes[e.typ]
	for i := 0; i < int(e.count); i++ {
		b := e.value[i*size:]
		switch e.typ {
		case typeByte:
			out = append(out, uint64(b[0]))
		case typeShort:
			out = append(out, uint64(tf.order.Uint16(b)))
		case typeLong:
			out = append(out, uint64(tf.order.Uint32(b)))
		}
	}
	return out
}

// floatValues decodes numeric tag values of integer, rational or double
// type into float64s.
func (tf *tiffFile) floatValues(e ifdEntry) []float64 {
	size := typeSizes[e.typ]
	out := make([]float64, 0, e.count)
	for i := 0; i < int(e.count); i++ {
		b := e.value[i*size:]
		switch e.typ {
		case typeByte:
			out = append(out, float64(b[0]))
		case typeShort:
			out = append(out, float64(tf.order.Uint16(b)))
		case typeLong:
			out = append(out, float64(tf.order.Uint32(b)))
		case typeSShort:
			out = append(out, float64(int16(tf.order.Uint16(b))))
		case typeSLong:
			out = append(out, float64(int32(tf.order.Uint32(b))))
		case typeRational:
			num := tf.order.Uint32(b)
			den := tf.order.Uint32(b[4:])
			if den != 0 {
				out = append(out, float64(num)/float64(den))
			} else {
				out = append(out, 0)
			}
		case typeSRational:
			num := int32(tf.order.Uint32(b))
			den := int32(tf.order.Uint32(b[4:]))
			if den != 0 {
				out = append(out, float64(num)/float64(den))
			} else {
				out = append(out, 0)
			}
		case typeDouble:
			out = append(out, math.Float64frombits(tf.order.Uint64(b)))
		}
	}
	return out
}

func (tf *tiffFile) extractGeometry(raw map[uint16]ifdEntry, f *Frame) error {
	w, okW := raw[tagImageWidth]
	h, okH := raw[tagImageLength]
	if !okW || !okH {
		return fmt.Errorf("%w: missing image dimensions", ErrMalformedMetadata)
	}
	f.Width = int(tf.uintValue(w))
	f.Height = int(tf.uintValue(h))
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: invalid image dimensions %dx%d", ErrMalformedMetadata, f.Width, f.Height)
	}
	return nil
}

func (tf *tiffFile) extractMosaic(raw, ifd0 map[uint16]ifdEntry, f *Frame) error {
	dim, ok := lookup(raw, ifd0, tagCFARepeatPatternDim)
	if !ok {
		return fmt.Errorf("%w: missing CFA repeat pattern", ErrMalformedMetadata)
	}
	dims := tf.uintValues(dim)
	if len(dims) < 2 || dims[0] != dims[1] || dims[0] == 0 {
		return fmt.Errorf("%w: non-square CFA pattern", ErrMalformedMetadata)
	}
	f.MosaicPeriod = int(dims[0])
	return nil
}

// extractLinearization reads black and white levels. Per-row and
// per-column black deltas are averaged into the per-subpixel positions
// they affect; if exactly one non-zero black level is reported across the
// mosaic it is broadcast to every position, handling sensors that report a
// single shared value.
func (tf *tiffFile) extractLinearization(raw, ifd0 map[uint16]ifdEntry, f *Frame) error {
	white, ok := lookup(raw, ifd0, tagWhiteLevel)
	if !ok {
		return fmt.Errorf("%w: missing white level", ErrMalformedMetadata)
	}
	f.WhiteLevel = int(tf.uintValue(white))

	period := f.MosaicPeriod
	levels := make([]float64, period*period)

	if bl, ok := lookup(raw, ifd0, tagBlackLevel); ok {
		vals := tf.floatValues(bl)
		rows, cols := period, period
		if rd, ok := lookup(raw, ifd0, tagBlackLevelRepeatDim); ok {
			dims := tf.uintValues(rd)
			if len(dims) == 2 && dims[0] > 0 && dims[1] > 0 {
				rows, cols = int(dims[0]), int(dims[1])
			}
		}
		if len(vals) > 0 {
			// Average multiple samples per position when the repeat grid
			// carries more values than positions.
			samples := len(vals) / (rows * cols)
			if samples < 1 {
				samples = 1
			}
			for r := 0; r < period; r++ {
				for c := 0; c < period; c++ {
					var sum float64
					n := 0
					for s := 0; s < samples; s++ {
						idx := ((r%rows)*cols+(c%cols))*samples + s
						if idx < len(vals) {
							sum += vals[idx]
							n++
						}
					}
					if n > 0 {
						levels[r*period+c] = sum / float64(n)
					}
				}
			}
		}
	} else {
		return fmt.Errorf("%w: missing black level", ErrMalformedMetadata)
	}

	// Fold per-row / per-column delta reports into the pattern positions
	// they land on, averaged over the rows (columns) sharing a phase.
	if dv, ok := lookup(raw, ifd0, tagBlackLevelDeltaV); ok {
		deltas := tf.floatValues(dv)
		if len(deltas) >= period {
			adjust := make([]float64, period)
			counts := make([]int, period)
			for row, d := range deltas {
				adjust[row%period] += d
				counts[row%period]++
			}
			for r := 0; r < period; r++ {
				if counts[r] > 0 {
					for c := 0; c < period; c++ {
						levels[r*period+c] += adjust[r] / float64(counts[r])
					}
				}
			}
		}
	}
	if dh, ok := lookup(raw, ifd0, tagBlackLevelDeltaH); ok {
		deltas := tf.floatValues(dh)
		if len(deltas) >= period {
			adjust := make([]float64, period)
			counts := make([]int, period)
			for col, d := range deltas {
				adjust[col%period] += d
				counts[col%period]++
			}
			for c := 0; c < period; c++ {
				if counts[c] > 0 {
					for r := 0; r < period; r++ {
						levels[r*period+c] += adjust[c] / float64(counts[c])
					}
				}
			}
		}
	}

	nonZero := 0
	var last float64
	for _, v := range levels {
		if v != 0 {
			nonZero++
			last = v
		}
	}
	if nonZero == 1 {
		for i := range levels {
			levels[i] = last
		}
	}

	f.BlackLevels = levels
	return nil
}

func (tf *tiffFile) extractMaskedAreas(raw, ifd0 map[uint16]ifdEntry, f *Frame) {
	ma, ok := lookup(raw, ifd0, tagMaskedAreas)
	if !ok {
		return
	}
	vals := tf.uintValues(ma)
	for i := 0; i+4 <= len(vals) && len(f.MaskedAreas) < MaxMaskedAreas; i += 4 {
		f.MaskedAreas = append(f.MaskedAreas, Area{
			Top:    int(vals[i]),
			Left:   int(vals[i+1]),
			Bottom: int(vals[i+2]),
			Right:  int(vals[i+3]),
		})
	}
}

func (tf *tiffFile) extractColorFactors(ifd0 map[uint16]ifdEntry, f *Frame) error {
	neutral, ok := ifd0[tagAsShotNeutral]
	if !ok {
		return fmt.Errorf("%w: missing camera-neutral color factors", ErrMalformedMetadata)
	}
	vals := tf.floatValues(neutral)
	if len(vals) < 3 {
		return fmt.Errorf("%w: camera-neutral needs 3 factors, got %d", ErrMalformedMetadata, len(vals))
	}
	f.ColorFactors = [3]float64{vals[0], vals[1], vals[2]}
	return nil
}

func (tf *tiffFile) extractExif(exif map[uint16]ifdEntry, f *Frame) {
	if e, ok := exif[tagExposureBiasValue]; ok && e.count >= 1 && len(e.value) >= 8 {
		num := int32(tf.order.Uint32(e.value))
		den := int32(tf.order.Uint32(e.value[4:]))
		f.ExposureBiasRat = [2]int32{num, den}
		if den != 0 {
			f.ExposureBias = int(int64(num) * 100 / int64(den))
		}
	}
	var iso uint64
	if e, ok := exif[tagISOSpeedRatings]; ok {
		iso = tf.uintValue(e)
		f.ISOSpeed = int(iso)
	}
	if e, ok := exif[tagExposureTime]; ok && len(e.value) >= 8 {
		num := tf.order.Uint32(e.value)
		den := tf.order.Uint32(e.value[4:])
		f.ExposureTime = [2]uint32{num, den}
		if den != 0 {
			f.ISOExposureTime = float32(iso) * float32(num) / float32(den)
		}
	}
}

func (tf *tiffFile) extractPixels(raw map[uint16]ifdEntry, f *Frame) error {
	if c, ok := raw[tagCompression]; ok && tf.uintValue(c) != compressionNone {
		return fmt.Errorf("%w: compressed raw data is not supported", ErrMalformedMetadata)
	}
	if b, ok := raw[tagBitsPerSample]; ok && tf.uintValue(b) != 16 {
		return fmt.Errorf("%w: only 16-bit samples are supported, got %d", ErrMalformedMetadata, tf.uintValue(b))
	}
	offsets, okO := raw[tagStripOffsets]
	counts, okC := raw[tagStripByteCounts]
	if !okO || !okC {
		return fmt.Errorf("%w: missing strip layout", ErrMalformedMetadata)
	}

	f.Pixels = make([]uint16, 0, f.Width*f.Height)
	offs := tf.uintValues(offsets)
	lens := tf.uintValues(counts)
	for i := range offs {
		if i >= len(lens) {
			break
		}
		start, n := int(offs[i]), int(lens[i])
		if start+n > len(tf.data) || n%2 != 0 {
			return fmt.Errorf("%w: strip %d out of range", ErrMalformedMetadata, i)
		}
		for p := start; p < start+n; p += 2 {
			f.Pixels = append(f.Pixels, tf.order.Uint16(tf.data[p:]))
		}
	}
	if len(f.Pixels) != f.Width*f.Height {
		return fmt.Errorf("%w: pixel data %d does not match %dx%d", ErrMalformedMetadata, len(f.Pixels), f.Width, f.Height)
	}
	return nil
}

// lookup finds a tag in the raw IFD first, falling back to IFD0 where some
// writers place calibration tags.
func lookup(raw, ifd0 map[uint16]ifdEntry, tag uint16) (ifdEntry, bool) {
	if e, ok := raw[tag]; ok {
		return e, true
	}
	e, ok := ifd0[tag]
	return e, ok
}
