package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"burstmerge/internal/burst"
	"burstmerge/internal/config"
	"burstmerge/internal/dng"
	"burstmerge/internal/export"
	"burstmerge/internal/fsutil"
	"burstmerge/internal/kernel"
	"burstmerge/internal/logging"
	"burstmerge/internal/storage"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log       *slog.Logger
	store     *storage.Store
	mergeCfg  config.Merge
	merger    burstMerger
	exporter  resultExporter
	loadBurst func(paths []string) (*burst.Burst, error)
	writeDNG  func(path string, template *dng.Frame, pixels []uint16, whiteLevel int) error
	readFrame func(path string) (*dng.Frame, error)
}

type burstMerger interface {
	Merge(b *burst.Burst, opts burst.Options) (*burst.Result, error)
}

// resultExporter renders a merged result into viewable formats next to the
// raw output.
type resultExporter interface {
	Export(res *burst.Result, rawPath string) ([]string, error)
}

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config, eng *kernel.Engine) Processor {
	r := &router{
		log:       logger,
		store:     store,
		mergeCfg:  cfg.Merge,
		merger:    burst.NewMerger(eng),
		loadBurst: burst.LoadBurst,
		writeDNG:  dng.WriteDNG,
		readFrame: dng.ReadFrame,
	}
	if cfg.Export.Enabled {
		r.exporter = export.NewManager(&cfg.Export, logger)
	}
	return r
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobMerge:
		return r.handleMerge(ctx, job)
	case JobInspect:
		return r.handleInspect(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleMerge(ctx context.Context, job Job) Result {
	if err := ctx.Err(); err != nil {
		return Result{Job: job, Error: err}
	}

	frames, _ := job.Options["frames"].([]string)
	if len(frames) == 0 {
		listed, err := fsutil.ListRawFiles(job.InputPath)
		if err != nil {
			return Result{Job: job, Error: fmt.Errorf("list burst frames: %w", err)}
		}
		frames = listed
	}
	if len(frames) == 0 {
		return Result{Job: job, Error: fmt.Errorf("no raw frames found under %s", job.InputPath)}
	}

	b, err := r.loadBurst(frames)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	r.journalBurst(job, b)
	logging.LogProcessingStep(r.log, job.ID, "load_frames", "completed", map[string]any{
		"frames": len(b.Frames),
		"period": b.Period,
	})

	opts := r.mergeOptions(job)
	res, err := r.merger.Merge(b, opts)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	logging.LogProcessingStep(r.log, job.ID, "merge", "completed", map[string]any{
		"mode":       modeName(opts.Mode),
		"hot_pixels": res.HotPixels,
	})

	output := job.Output
	if output == "" {
		output = defaultOutputPath(frames[0])
	}
	if err := r.writeDNG(output, b.Frames[0], res.Pixels, res.WhiteLevel); err != nil {
		return Result{Job: job, Error: err}
	}

	meta := map[string]any{
		"output":      output,
		"frames":      len(b.Frames),
		"mode":        modeName(opts.Mode),
		"white_level": res.WhiteLevel,
		"hot_pixels":  res.HotPixels,
	}

	if r.exporter != nil {
		exports, err := r.exporter.Export(res, output)
		if err != nil {
			// Rendered copies are best effort; the merged raw is written.
			r.log.Warn("export failed", "job", job.ID, "error", err)
		}
		if len(exports) > 0 {
			meta["exports"] = exports
		}
	}

	return Result{Job: job, Meta: meta}
}

func (r *router) handleInspect(ctx context.Context, job Job) Result {
	if err := ctx.Err(); err != nil {
		return Result{Job: job, Error: err}
	}
	f, err := r.readFrame(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if r.store != nil {
		_ = r.store.RecordFrameMetadata(frameMetadata(job.ID, f))
	}
	meta := map[string]any{
		"width":             f.Width,
		"height":            f.Height,
		"mosaic_period":     f.MosaicPeriod,
		"white_level":       f.WhiteLevel,
		"black_levels":      f.BlackLevels,
		"masked_areas":      len(f.MaskedAreas),
		"exposure_bias":     f.ExposureBias,
		"iso":               f.ISOSpeed,
		"iso_exposure_time": f.ISOExposureTime,
		"color_factors":     f.ColorFactors,
	}
	return Result{Job: job, Meta: meta}
}

// mergeOptions builds the per-run options from the configured defaults with
// per-job overrides.
func (r *router) mergeOptions(job Job) burst.Options {
	opts := burst.Options{
		Mode:                  parseMode(r.mergeCfg.Mode),
		HighlightHalfWidth:    r.mergeCfg.HighlightHalfWidth,
		ExtrapolateHighlights: r.mergeCfg.ExtrapolateHighlights,
		DisableHotPixels:      r.mergeCfg.DisableHotPixels,
	}
	if mode, ok := job.Options["mode"].(string); ok && mode != "" {
		opts.Mode = parseMode(mode)
	}
	if hw, ok := job.Options["highlightHalfWidth"].(int); ok && hw > 0 {
		opts.HighlightHalfWidth = hw
	}
	if v, ok := job.Options["noHotPixels"].(bool); ok {
		opts.DisableHotPixels = v
	}
	return opts
}

func (r *router) journalBurst(job Job, b *burst.Burst) {
	if r.store == nil {
		return
	}
	_ = r.store.RecordBurstGroup(storage.BurstGroupRecord{
		JobID:        job.ID,
		BasePath:     filepath.Dir(b.Frames[0].Path),
		FrameCount:   len(b.Frames),
		MosaicPeriod: b.Period,
		WhiteLevel:   b.Calibration.WhiteLevel,
	})
	for _, f := range b.Frames {
		_ = r.store.RecordFrameMetadata(frameMetadata(job.ID, f))
	}
}

func frameMetadata(jobID string, f *dng.Frame) storage.FrameMetadata {
	return storage.FrameMetadata{
		FilePath:        f.Path,
		JobID:           jobID,
		Width:           f.Width,
		Height:          f.Height,
		MosaicPeriod:    f.MosaicPeriod,
		WhiteLevel:      f.WhiteLevel,
		BlackLevels:     f.BlackLevels,
		ExposureBias:    f.ExposureBias,
		ISO:             f.ISOSpeed,
		ISOExposureTime: float64(f.ISOExposureTime),
	}
}

func parseMode(mode string) burst.Mode {
	switch strings.ToLower(mode) {
	case "exposure", "exposure-weighted", "bracketed":
		return burst.ModeExposureWeighted
	default:
		return burst.ModeUniform
	}
}

func modeName(m burst.Mode) string {
	if m == burst.ModeExposureWeighted {
		return "exposure"
	}
	return "uniform"
}

func defaultOutputPath(firstFrame string) string {
	dir := filepath.Dir(firstFrame)
	base := filepath.Base(dir)
	if base == "." || base == string(filepath.Separator) {
		base = "burst"
	}
	return filepath.Join(dir, base+"_merged.dng")
}
