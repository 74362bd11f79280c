package kernel

import (
	"errors"
	"math"
	"sort"

	"burstmerge/internal/texture"
)

// ErrUnsupportedMosaic reports a mosaic period the hot-pixel detector has
// no variant for. The rest of the pipeline is period-agnostic, so callers
// treat it as a no-op rather than a failure.
var ErrUnsupportedMosaic = errors.New("unsupported mosaic period")

// Detection thresholds. A site counts as hot when its response relative to
// the same-color neighbor average reaches the threshold; knowing the true
// sensor black levels permits a tighter threshold and a lower correction
// multiplicator. The sparser same-color spacing of 6x6 layouts relaxes the
// threshold by 1.4x.
const (
	hotPixelThresholdKnown       = 2.0
	hotPixelMultiplicatorKnown   = 1.0
	hotPixelThresholdUnknown     = 3.0
	hotPixelMultiplicatorUnknown = 2.0
	xtransThresholdRelax         = 1.4

	// hotPixelInset keeps candidate evaluation away from image edges;
	// edge sites are never evaluated.
	hotPixelInset = 2
)

// xtransPattern is the canonical 6x6 X-Trans color filter layout
// (R, G, B as 0, 1, 2).
var xtransPattern = [6][6]uint8{
	{1, 2, 0, 1, 0, 2},
	{0, 1, 1, 2, 1, 1},
	{2, 1, 1, 0, 1, 1},
	{1, 0, 2, 1, 2, 0},
	{2, 1, 1, 0, 1, 1},
	{0, 1, 1, 2, 1, 1},
}

type xtransNeighbor struct {
	dx, dy int
	weight float32 // 1/distance
}

// xtransNeighbors maps each of the 36 pattern positions to its four
// nearest same-color neighbors. Same-color sites in a 6x6 periodic layout
// sit at diagonal (knight's-move) offsets, so the table is position
// dependent; it is derived once from the pattern at package init.
var xtransNeighbors = buildXTransNeighbors()

func buildXTransNeighbors() [36][4]xtransNeighbor {
	var table [36][4]xtransNeighbor
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			color := xtransPattern[y][x]
			var cands []xtransNeighbor
			for dy := -3; dy <= 3; dy++ {
				for dx := -3; dx <= 3; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					if xtransPattern[(y+dy+6)%6][(x+dx+6)%6] != color {
						continue
					}
					d := math.Sqrt(float64(dx*dx + dy*dy))
					cands = append(cands, xtransNeighbor{dx: dx, dy: dy, weight: float32(1 / d)})
				}
			}
			sort.SliceStable(cands, func(i, j int) bool {
				di := cands[i].dx*cands[i].dx + cands[i].dy*cands[i].dy
				dj := cands[j].dx*cands[j].dx + cands[j].dy*cands[j].dy
				if di != dj {
					return di < dj
				}
				if cands[i].dy != cands[j].dy {
					return cands[i].dy < cands[j].dy
				}
				return cands[i].dx < cands[j].dx
			})
			copy(table[y*6+x][:], cands[:4])
		}
	}
	return table
}

// CorrectionStrength derives the burst-wide hot-pixel correction strength
// from each frame's ISO x exposure-time product. The accumulated exposure
// is normalized by the square root of the burst size, clamped to [5, 80]
// and rescaled to [0, 1]. A result at or below 0.001 disables detection.
func CorrectionStrength(isoExposureTimes []float32) float64 {
	n := len(isoExposureTimes)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range isoExposureTimes {
		sum += float64(v)
	}
	raw := sum / math.Sqrt(float64(n))
	if raw < 5 {
		raw = 5
	}
	if raw > 80 {
		raw = 80
	}
	return (raw - 5) / 75
}

// HotPixelParams parameterizes hot-pixel detection for one burst.
type HotPixelParams struct {
	Period      int
	BlackLevels []float64 // period^2 mean black levels; nil when unknown
	Strength    float64   // burst-wide correction strength in [0, 1]
}

// DetectHotPixels flags sensor sites with anomalously high response
// relative to their same-color neighbors on a burst-averaged texture and
// returns a sparse correction-weight texture (zero everywhere except
// flagged sites, holding a blend factor in [0, 1]).
//
// Returns (nil, nil) when the correction strength is negligible and
// (nil, ErrUnsupportedMosaic) for periods other than 2 and 6.
func (e *Engine) DetectHotPixels(avg *texture.Float, p HotPixelParams) (*texture.Float, error) {
	if p.Strength <= 0.001 {
		return nil, nil
	}
	if p.Period != 2 && p.Period != 6 {
		return nil, ErrUnsupportedMosaic
	}

	channelMeans, err := e.SubpixelMeans(avg, Rect{0, 0, avg.Height, avg.Width}, p.Period)
	if err != nil {
		return nil, err
	}

	threshold := hotPixelThresholdUnknown
	multiplicator := hotPixelMultiplicatorUnknown
	if p.BlackLevels != nil {
		threshold = hotPixelThresholdKnown
		multiplicator = hotPixelMultiplicatorKnown
	}
	if p.Period == 6 {
		threshold *= xtransThresholdRelax
	}

	out, err := texture.NewFloat(avg.Width, avg.Height)
	if err != nil {
		return nil, err
	}

	inner := hotPixelInset
	gridW := avg.Width - 2*inner
	gridH := avg.Height - 2*inner
	if gridW <= 0 || gridH <= 0 {
		return out, nil
	}

	e.Dispatch2D(gridW, gridH, func(gx, gy int) {
		x := gx + inner
		y := gy + inner
		sub := (y%p.Period)*p.Period + (x % p.Period)

		var neighborAvg float64
		if p.Period == 2 {
			cardinals := float64(avg.At(x-2, y)) + float64(avg.At(x+2, y)) +
				float64(avg.At(x, y-2)) + float64(avg.At(x, y+2))
			diagonals := float64(avg.At(x-2, y-2)) + float64(avg.At(x+2, y-2)) +
				float64(avg.At(x-2, y+2)) + float64(avg.At(x+2, y+2))
			neighborAvg = (2*cardinals + diagonals) / 12
		} else {
			var sum, wsum float64
			for _, nb := range xtransNeighbors[sub] {
				nx, ny := x+nb.dx, y+nb.dy
				if nx < 0 || nx >= avg.Width || ny < 0 || ny >= avg.Height {
					continue
				}
				sum += float64(nb.weight) * float64(avg.At(nx, ny))
				wsum += float64(nb.weight)
			}
			if wsum == 0 {
				return
			}
			neighborAvg = sum / wsum
		}

		var black float64
		if p.BlackLevels != nil {
			black = p.BlackLevels[sub]
		}

		candidate := float64(avg.At(x, y))
		ratio := math.Max(1, candidate-black) / math.Max(1, neighborAvg-black)
		if ratio < threshold || candidate < 2*channelMeans[sub] {
			return
		}
		weight := 0.5 * p.Strength * math.Min(2, multiplicator*(ratio-threshold))
		out.Set(x, y, float32(weight))
	})

	return out, nil
}
