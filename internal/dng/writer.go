package dng

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// WriteDNG writes a merged result back into a minimal raw container: a
// single uncompressed 16-bit strip in IFD0, carrying the template frame's
// calibration metadata with the given (possibly extended) white level.
// Always written little endian.
func WriteDNG(path string, template *Frame, pixels []uint16, whiteLevel int) error {
	if len(pixels) != template.Width*template.Height {
		return fmt.Errorf("pixel buffer %d does not match %dx%d", len(pixels), template.Width, template.Height)
	}
	data, err := encodeDNG(template, pixels, whiteLevel)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write raw container: %w", err)
	}
	return nil
}

type writerEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	// inline holds values fitting in 4 bytes; extra holds spilled value
	// bytes whose file offset is patched in at layout time.
	inline [4]byte
	extra  []byte
}

func encodeDNG(f *Frame, pixels []uint16, whiteLevel int) ([]byte, error) {
	period := f.MosaicPeriod
	if period != 2 && period != 6 {
		return nil, fmt.Errorf("unsupported mosaic period %d", period)
	}

	var entries []writerEntry
	add := func(e writerEntry) { entries = append(entries, e) }

	add(longEntry(tagNewSubfileType, 0))
	add(longEntry(tagImageWidth, uint32(f.Width)))
	add(longEntry(tagImageLength, uint32(f.Height)))
	add(shortEntry(tagBitsPerSample, 16))
	add(shortEntry(tagCompression, compressionNone))
	add(shortEntry(tagPhotometric, photometricCFA))
	stripOffsets := longEntry(tagStripOffsets, 0) // patched after layout
	add(stripOffsets)
	add(shortEntry(tagSamplesPerPixel, 1))
	add(longEntry(tagRowsPerStrip, uint32(f.Height)))
	add(longEntry(tagStripByteCounts, uint32(2*len(pixels))))

	add(shortsEntry(tagCFARepeatPatternDim, []uint16{uint16(period), uint16(period)}))
	add(bytesEntry(tagCFAPattern, cfaPattern(period)))

	if f.ExposureTime[1] != 0 {
		add(rationalEntry(tagExposureTime, f.ExposureTime[0], f.ExposureTime[1]))
	}
	if f.ISOSpeed > 0 {
		add(shortEntry(tagISOSpeedRatings, uint16(f.ISOSpeed)))
	}
	if f.ExposureBiasRat[1] != 0 {
		add(srationalEntry(tagExposureBiasValue, f.ExposureBiasRat[0], f.ExposureBiasRat[1]))
	}

	add(bytesEntry(tagDNGVersion, []byte{1, 4, 0, 0}))
	add(shortsEntry(tagBlackLevelRepeatDim, []uint16{uint16(period), uint16(period)}))
	add(blackLevelEntry(f.BlackLevels))
	add(longEntry(tagWhiteLevel, uint32(whiteLevel)))
	add(neutralEntry(f.ColorFactors))
	if len(f.MaskedAreas) > 0 {
		add(maskedEntry(f.MaskedAreas))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Layout: 8-byte header, IFD, spilled values, pixel strip.
	ifdSize := 2 + 12*len(entries) + 4
	pos := 8 + ifdSize
	for i := range entries {
		e := &entries[i]
		if len(e.extra) > 4 {
			if pos%2 != 0 {
				pos++
			}
			binary.LittleEndian.PutUint32(e.inline[:], uint32(pos))
			pos += len(e.extra)
		}
	}
	if pos%2 != 0 {
		pos++
	}
	stripStart := pos

	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			binary.LittleEndian.PutUint32(entries[i].inline[:], uint32(stripStart))
		}
	}

	buf := &bytes.Buffer{}
	buf.Grow(stripStart + 2*len(pixels))
	buf.Write([]byte{'I', 'I', 42, 0})
	le32(buf, 8) // IFD0 directly after the header

	le16(buf, uint16(len(entries)))
	for _, e := range entries {
		le16(buf, e.tag)
		le16(buf, e.typ)
		le32(buf, e.count)
		buf.Write(e.inline[:])
	}
	le32(buf, 0) // no next IFD

	for _, e := range entries {
		if len(e.extra) > 4 {
			if buf.Len()%2 != 0 {
				buf.WriteByte(0)
			}
			buf.Write(e.extra)
		}
	}
	for buf.Len() < stripStart {
		buf.WriteByte(0)
	}
	for _, v := range pixels {
		le16(buf, v)
	}
	return buf.Bytes(), nil
}

func cfaPattern(period int) []byte {
	if period == 2 {
		return []byte{0, 1, 1, 2} // RGGB
	}
	out := make([]byte, 36)
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			out[y*6+x] = xtransCFA[y][x]
		}
	}
	return out
}

// xtransCFA is the canonical 6x6 X-Trans color assignment (0 red, 1 green,
// 2 blue).
var xtransCFA = [6][6]byte{
	{1, 2, 0, 1, 0, 2},
	{0, 1, 1, 2, 1, 1},
	{2, 1, 1, 0, 1, 1},
	{1, 0, 2, 1, 2, 0},
	{2, 1, 1, 0, 1, 1},
	{0, 1, 1, 2, 1, 1},
}

func shortEntry(tag uint16, v uint16) writerEntry {
	e := writerEntry{tag: tag, typ: typeShort, count: 1}
	binary.LittleEndian.PutUint16(e.inline[:], v)
	return e
}

func longEntry(tag uint16, v uint32) writerEntry {
	e := writerEntry{tag: tag, typ: typeLong, count: 1}
	binary.LittleEndian.PutUint32(e.inline[:], v)
	return e
}

func shortsEntry(tag uint16, vals []uint16) writerEntry {
	e := writerEntry{tag: tag, typ: typeShort, count: uint32(len(vals))}
	raw := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(raw[2*i:], v)
	}
	return packValue(e, raw)
}

func bytesEntry(tag uint16, vals []byte) writerEntry {
	e := writerEntry{tag: tag, typ: typeByte, count: uint32(len(vals))}
	return packValue(e, vals)
}

func rationalEntry(tag uint16, num, den uint32) writerEntry {
	e := writerEntry{tag: tag, typ: typeRational, count: 1}
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw, num)
	binary.LittleEndian.PutUint32(raw[4:], den)
	return packValue(e, raw)
}

func srationalEntry(tag uint16, num, den int32) writerEntry {
	e := writerEntry{tag: tag, typ: typeSRational, count: 1}
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw, uint32(num))
	binary.LittleEndian.PutUint32(raw[4:], uint32(den))
	return packValue(e, raw)
}

// blackLevelEntry encodes per-position black levels as rationals with a
// fixed denominator, preserving fractional means from masked-area
// calibration.
func blackLevelEntry(levels []float64) writerEntry {
	const den = 1000
	e := writerEntry{tag: tagBlackLevel, typ: typeRational, count: uint32(len(levels))}
	raw := make([]byte, 8*len(levels))
	for i, v := range levels {
		if v < 0 {
			v = 0
		}
		binary.LittleEndian.PutUint32(raw[8*i:], uint32(v*den+0.5))
		binary.LittleEndian.PutUint32(raw[8*i+4:], den)
	}
	return packValue(e, raw)
}

func neutralEntry(factors [3]float64) writerEntry {
	const den = 1 << 20
	e := writerEntry{tag: tagAsShotNeutral, typ: typeRational, count: 3}
	raw := make([]byte, 24)
	for i, v := range factors {
		if v < 0 {
			v = 0
		}
		binary.LittleEndian.PutUint32(raw[8*i:], uint32(v*den+0.5))
		binary.LittleEndian.PutUint32(raw[8*i+4:], den)
	}
	return packValue(e, raw)
}

func maskedEntry(areas []Area) writerEntry {
	e := writerEntry{tag: tagMaskedAreas, typ: typeLong, count: uint32(4 * len(areas))}
	raw := make([]byte, 16*len(areas))
	for i, a := range areas {
		binary.LittleEndian.PutUint32(raw[16*i:], uint32(a.Top))
		binary.LittleEndian.PutUint32(raw[16*i+4:], uint32(a.Left))
		binary.LittleEndian.PutUint32(raw[16*i+8:], uint32(a.Bottom))
		binary.LittleEndian.PutUint32(raw[16*i+12:], uint32(a.Right))
	}
	return packValue(e, raw)
}

func packValue(e writerEntry, raw []byte) writerEntry {
	if len(raw) <= 4 {
		copy(e.inline[:], raw)
	} else {
		e.extra = raw
	}
	return e
}

func le16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func le32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
