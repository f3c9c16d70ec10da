package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"

	"github.com/jbellot/iris-art/internal/domain"
	"github.com/jbellot/iris-art/internal/stages"
)

const (
	enhanceScale    = 4
	stylePreviewPx  = 256
	styleResultPx   = 1024
	maskFeatherSize = 4.0
)

// runProcessing executes the core pipeline: segment the iris, remove
// reflections, enhance, store result and mask.
func (r *Runtime) runProcessing(ctx context.Context, job *domain.Job, start time.Time) error {
	if err := r.checkpoint(ctx, job.ID, 5, stepLoading); err != nil {
		return err
	}
	img, err := r.loadImage(ctx, uploadKey(job.UserID, job.Params.PhotoID))
	if err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 10, stepLoading); err != nil {
		return err
	}

	if err := r.checkpoint(ctx, job.ID, 20, stepSegmenting); err != nil {
		return err
	}
	masked, mask, err := stages.Segment(img, r.segmenter)
	if err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 40, stepSegmenting); err != nil {
		return err
	}

	if err := r.checkpoint(ctx, job.ID, 50, stepDereflecting); err != nil {
		return err
	}
	cleaned := stages.Dereflect(masked, mask)
	if err := r.checkpoint(ctx, job.ID, 60, stepDereflecting); err != nil {
		return err
	}

	if err := r.checkpoint(ctx, job.ID, 70, stepEnhancing); err != nil {
		return err
	}
	enhanced, err := stages.Enhance(cleaned, enhanceScale)
	if err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 90, stepEnhancing); err != nil {
		return err
	}

	if err := r.checkpoint(ctx, job.ID, 95, stepSaving); err != nil {
		return err
	}
	resultKey := processedKey(job.UserID, job.ID)
	size, err := r.putJPEG(ctx, resultKey, enhanced, stages.JPEGQualityResult)
	if err != nil {
		return err
	}
	maskData, err := stages.EncodeMaskPNG(mask)
	if err != nil {
		return err
	}
	maskKey := processedMaskKey(job.UserID, job.ID)
	if err := r.store.Put(ctx, maskKey, maskData, "image/png"); err != nil {
		return domain.TransientError("Failed to save result", err)
	}

	b := enhanced.Bounds()
	return r.complete(ctx, job, domain.JobResult{
		ResultKey:        resultKey,
		MaskKey:          maskKey,
		Width:            b.Dx(),
		Height:           b.Dy(),
		FileSizeBytes:    size,
		ProcessingTimeMS: r.elapsedMS(start),
	})
}

// runStyle applies a style model (or the generative model) to the processed
// result, producing a small preview before the full-size output.
func (r *Runtime) runStyle(ctx context.Context, job *domain.Job, start time.Time) error {
	if err := r.checkpoint(ctx, job.ID, 5, stepLoading); err != nil {
		return err
	}
	src, mask, err := r.loadStyleSource(ctx, job)
	if err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 10, stepLoading); err != nil {
		return err
	}

	step := stepStyling
	if job.Params.Generative {
		step = stepGenerating
	}
	if err := r.checkpoint(ctx, job.ID, 20, step); err != nil {
		return err
	}

	var preview, result image.Image
	if job.Params.Generative {
		model, err := r.generativeModel()
		if err != nil {
			return err
		}
		if result, err = model.Generate(src, mask, styleResultPx); err != nil {
			return err
		}
		if err := r.checkpoint(ctx, job.ID, 40, step); err != nil {
			return err
		}
		preview = imaging.Resize(result, stylePreviewPx, stylePreviewPx, imaging.Lanczos)
	} else {
		model, err := r.styleModel(job.Params.StyleID)
		if err != nil {
			return err
		}
		if preview, err = model.Apply(src, stylePreviewPx); err != nil {
			return err
		}
		if err := r.checkpoint(ctx, job.ID, 40, step); err != nil {
			return err
		}
		if result, err = model.Apply(src, styleResultPx); err != nil {
			return err
		}
	}
	if err := r.checkpoint(ctx, job.ID, 60, step); err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 70, step); err != nil {
		return err
	}

	if err := r.checkpoint(ctx, job.ID, 75, stepSaving); err != nil {
		return err
	}
	previewKey := styledPreviewKey(job.UserID, job.ID, job.Params.Generative)
	if _, err := r.putJPEG(ctx, previewKey, preview, stages.JPEGQualityThumb); err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 85, stepSaving); err != nil {
		return err
	}
	resultKey := styledKey(job.UserID, job.ID, job.Params.Generative)
	size, err := r.putJPEG(ctx, resultKey, result, stages.JPEGQualityResult)
	if err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 90, stepSaving); err != nil {
		return err
	}

	b := result.Bounds()
	return r.complete(ctx, job, domain.JobResult{
		ResultKey:        resultKey,
		PreviewKey:       previewKey,
		Width:            b.Dx(),
		Height:           b.Dy(),
		FileSizeBytes:    size,
		ProcessingTimeMS: r.elapsedMS(start),
	})
}

// loadStyleSource resolves what a style job works on: the chained processing
// job's result when one is recorded, otherwise the original upload. The mask
// rides along for the generative model; a source without a stored mask gets
// full coverage.
func (r *Runtime) loadStyleSource(ctx context.Context, job *domain.Job) (image.Image, *image.Gray, error) {
	srcKey := uploadKey(job.UserID, job.Params.PhotoID)
	maskKey := ""
	if upstreamID := job.Params.UpstreamJobID; upstreamID != "" {
		upstream, err := r.jobs.GetByID(ctx, upstreamID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, nil, domain.QualityError(
					"The processed photo for this style no longer exists",
					"Process the photo again before applying a style.",
				)
			}
			return nil, nil, fmt.Errorf("load upstream job %s: %w", upstreamID, err)
		}
		if upstream.Status != domain.JobStatusCompleted {
			return nil, nil, domain.QualityError(
				"The photo has not finished processing",
				"Wait for processing to complete before applying a style.",
			)
		}
		srcKey = upstream.ResultKey
		maskKey = upstream.MaskKey
	}

	img, err := r.loadImage(ctx, srcKey)
	if err != nil {
		return nil, nil, err
	}

	if maskKey == "" {
		return img, fullMask(img.Bounds()), nil
	}
	maskData, err := r.store.Get(ctx, maskKey)
	if err != nil {
		return nil, nil, domain.TransientError("Failed to load image from storage", err)
	}
	mask, err := stages.DecodeMask(maskData)
	if err != nil {
		return nil, nil, err
	}
	return img, mask, nil
}

// runExport upscales a finished result to HD and watermarks free-tier output.
func (r *Runtime) runExport(ctx context.Context, job *domain.Job, start time.Time) error {
	if err := r.checkpoint(ctx, job.ID, 5, stepLoading); err != nil {
		return err
	}
	srcKey, err := r.resolveExportSource(ctx, job)
	if err != nil {
		return err
	}
	img, err := r.loadImage(ctx, srcKey)
	if err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 10, stepLoading); err != nil {
		return err
	}

	// The upscale working set is the largest allocation any pipeline makes;
	// drop resident style and generator models first.
	r.models.EvictFamily(styleModelPrefix)
	r.models.EvictFamily(generativeModelPrefix)

	if err := r.checkpoint(ctx, job.ID, 20, stepUpscaling); err != nil {
		return err
	}
	hd := stages.Upscale(img, stages.HDExportSide)
	if err := r.checkpoint(ctx, job.ID, 70, stepUpscaling); err != nil {
		return err
	}

	if !job.Params.Paid {
		if err := r.checkpoint(ctx, job.ID, 75, stepWatermarking); err != nil {
			return err
		}
		hd = stages.Watermark(hd, watermarkText)
		if err := r.checkpoint(ctx, job.ID, 85, stepWatermarking); err != nil {
			return err
		}
	}

	if err := r.checkpoint(ctx, job.ID, 90, stepSaving); err != nil {
		return err
	}
	resultKey := exportKey(job.UserID, job.ID)
	size, err := r.putJPEG(ctx, resultKey, hd, stages.JPEGQualityExport)
	if err != nil {
		return err
	}

	b := hd.Bounds()
	return r.complete(ctx, job, domain.JobResult{
		ResultKey:        resultKey,
		Width:            b.Dx(),
		Height:           b.Dy(),
		FileSizeBytes:    size,
		ProcessingTimeMS: r.elapsedMS(start),
	})
}

func (r *Runtime) resolveExportSource(ctx context.Context, job *domain.Job) (string, error) {
	if key := job.Params.SourceKey; key != "" {
		return key, nil
	}
	source, err := r.jobs.GetByID(ctx, job.Params.SourceJobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.QualityError(
				"The artwork to export no longer exists",
				"Create the artwork again before exporting.",
			)
		}
		return "", fmt.Errorf("load export source job %s: %w", job.Params.SourceJobID, err)
	}
	if source.Status != domain.JobStatusCompleted || source.ResultKey == "" {
		return "", domain.QualityError(
			"The artwork to export is not finished",
			"Wait for the artwork to complete before exporting.",
		)
	}
	return source.ResultKey, nil
}

// runFusion blends the best available result of each source photo into one
// artwork. Poisson mode attempts a seamless clone per overlay and falls back
// to alpha blending for that overlay when the mask degenerates, so a fusion
// always completes once its sources load.
func (r *Runtime) runFusion(ctx context.Context, job *domain.Job, start time.Time) error {
	if err := r.checkpoint(ctx, job.ID, 10, stepLoading); err != nil {
		return err
	}
	images, masks, err := r.loadFusionSources(ctx, job)
	if err != nil {
		return err
	}
	if len(images) < 2 {
		return domain.QualityError(
			"A fusion needs at least two photos",
			"Select two or more processed photos.",
		)
	}
	if err := r.checkpoint(ctx, job.ID, 20, stepLoading); err != nil {
		return err
	}

	images, masks = stages.NormalizeAll(images, masks)
	if err := r.checkpoint(ctx, job.ID, 30, stepBlending); err != nil {
		return err
	}

	base := images[0]
	for i := 1; i < len(images); i++ {
		feathered := stages.FeatherMask(masks[i], maskFeatherSize)
		if job.Params.BlendMode == domain.BlendModePoisson {
			blended, err := stages.SeamlessClone(base, images[i], feathered, stages.MaskCentroid(feathered))
			if err != nil {
				if !errors.Is(err, stages.ErrDegenerateMask) {
					return err
				}
				r.logger.Warn().
					Str("job_id", job.ID).
					Int("overlay", i).
					Msg("worker: seamless clone degenerate, alpha fallback")
				base = stages.AlphaBlend(base, images[i], feathered)
			} else {
				base = blended
			}
		} else {
			base = stages.AlphaBlend(base, images[i], feathered)
		}
		pct := 30 + 50*i/(len(images)-1)
		if err := r.checkpoint(ctx, job.ID, pct, stepBlending); err != nil {
			return err
		}
	}

	return r.saveFusionResult(ctx, job, base, start)
}

// runComposition arranges source results side by side instead of blending
// them.
func (r *Runtime) runComposition(ctx context.Context, job *domain.Job, start time.Time) error {
	if err := r.checkpoint(ctx, job.ID, 10, stepLoading); err != nil {
		return err
	}
	images, _, err := r.loadFusionSources(ctx, job)
	if err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 30, stepLoading); err != nil {
		return err
	}

	if err := r.checkpoint(ctx, job.ID, 40, stepComposing); err != nil {
		return err
	}
	sheet, err := stages.Compose(images, job.Params.Layout)
	if err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 60, stepComposing); err != nil {
		return err
	}

	return r.saveFusionResult(ctx, job, sheet, start)
}

// loadFusionSources resolves each source photo to its best completed result
// (latest style job, else latest processing job) and loads image and mask. A
// photo with no completed result is a quality failure for the whole job.
func (r *Runtime) loadFusionSources(ctx context.Context, job *domain.Job) ([]*image.NRGBA, []*image.Gray, error) {
	images := make([]*image.NRGBA, 0, len(job.Params.PhotoIDs))
	masks := make([]*image.Gray, 0, len(job.Params.PhotoIDs))
	for _, photoID := range job.Params.PhotoIDs {
		source, err := r.jobs.LatestCompletedForPhoto(ctx, job.UserID, photoID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, nil, domain.QualityError(
					fmt.Sprintf("Photo %s has no finished artwork to use", photoID),
					"Process every selected photo before combining them.",
				)
			}
			return nil, nil, fmt.Errorf("resolve source for photo %s: %w", photoID, err)
		}

		img, err := r.loadImage(ctx, source.ResultKey)
		if err != nil {
			return nil, nil, err
		}
		nrgba := imaging.Clone(img)

		mask := fullMask(nrgba.Bounds())
		if source.MaskKey != "" {
			maskData, err := r.store.Get(ctx, source.MaskKey)
			if err != nil {
				return nil, nil, domain.TransientError("Failed to load image from storage", err)
			}
			if mask, err = stages.DecodeMask(maskData); err != nil {
				return nil, nil, err
			}
		}

		images = append(images, nrgba)
		masks = append(masks, mask)
	}
	return images, masks, nil
}

func (r *Runtime) saveFusionResult(ctx context.Context, job *domain.Job, result *image.NRGBA, start time.Time) error {
	if err := r.checkpoint(ctx, job.ID, 80, stepSaving); err != nil {
		return err
	}
	thumb := stages.Thumbnail(result)
	thumbKey := fusionThumbKey(job.ID)
	if _, err := r.putJPEG(ctx, thumbKey, thumb, stages.JPEGQualityThumb); err != nil {
		return err
	}
	resultKey := fusionKey(job.ID)
	size, err := r.putJPEG(ctx, resultKey, result, stages.JPEGQualityResult)
	if err != nil {
		return err
	}
	if err := r.checkpoint(ctx, job.ID, 90, stepSaving); err != nil {
		return err
	}

	b := result.Bounds()
	return r.complete(ctx, job, domain.JobResult{
		ResultKey:        resultKey,
		ThumbnailKey:     thumbKey,
		Width:            b.Dx(),
		Height:           b.Dy(),
		FileSizeBytes:    size,
		ProcessingTimeMS: r.elapsedMS(start),
	})
}

// fullMask covers the whole bounds, for sources that carry no stored mask.
func fullMask(b image.Rectangle) *image.Gray {
	mask := image.NewGray(b)
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	return mask
}
