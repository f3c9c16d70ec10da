package stages

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/jbellot/iris-art/internal/domain"
)

// MaxDimension caps normalized image sides to bound worker memory.
const MaxDimension = 2048

// NormalizeAll resizes every image (and its mask when given) to shared target
// dimensions derived from the largest input, capped at MaxDimension.
func NormalizeAll(images []*image.NRGBA, masks []*image.Gray) ([]*image.NRGBA, []*image.Gray) {
	maxW, maxH := 0, 0
	for _, img := range images {
		if img.Bounds().Dx() > maxW {
			maxW = img.Bounds().Dx()
		}
		if img.Bounds().Dy() > maxH {
			maxH = img.Bounds().Dy()
		}
	}
	if maxW > MaxDimension || maxH > MaxDimension {
		scale := float64(MaxDimension) / float64(max(maxW, maxH))
		maxW = int(float64(maxW) * scale)
		maxH = int(float64(maxH) * scale)
	}

	outImgs := make([]*image.NRGBA, len(images))
	for i, img := range images {
		if img.Bounds().Dx() == maxW && img.Bounds().Dy() == maxH {
			outImgs[i] = img
			continue
		}
		outImgs[i] = imaging.Resize(img, maxW, maxH, imaging.Lanczos)
	}
	var outMasks []*image.Gray
	if masks != nil {
		outMasks = make([]*image.Gray, len(masks))
		for i, m := range masks {
			if m.Bounds().Dx() == maxW && m.Bounds().Dy() == maxH {
				outMasks[i] = m
				continue
			}
			outMasks[i] = toGray(imaging.Resize(m, maxW, maxH, imaging.Linear))
		}
	}
	return outImgs, outMasks
}

// Compose arranges 2-4 processed images into a fixed layout. The shared
// dimension derives from the smallest input so nothing is upscaled; a 2x2
// grid short of four inputs is padded with blank tiles.
func Compose(images []*image.NRGBA, layout domain.Layout) (*image.NRGBA, error) {
	if len(images) < 2 || len(images) > 4 {
		return nil, domain.QualityError(
			"Compositions need between 2 and 4 images",
			"Select two, three or four processed photos.",
		)
	}

	switch layout {
	case domain.LayoutHorizontal:
		height := minSide(images, func(img *image.NRGBA) int { return img.Bounds().Dy() })
		height = min(height, MaxDimension)
		resized := make([]*image.NRGBA, len(images))
		for i, img := range images {
			resized[i] = imaging.Resize(img, 0, height, imaging.Lanczos)
		}
		return concatH(resized, height), nil

	case domain.LayoutVertical:
		width := minSide(images, func(img *image.NRGBA) int { return img.Bounds().Dx() })
		width = min(width, MaxDimension)
		resized := make([]*image.NRGBA, len(images))
		for i, img := range images {
			resized[i] = imaging.Resize(img, width, 0, imaging.Lanczos)
		}
		return concatV(resized, width), nil

	case domain.LayoutGrid2x2:
		w := minSide(images, func(img *image.NRGBA) int { return img.Bounds().Dx() })
		h := minSide(images, func(img *image.NRGBA) int { return img.Bounds().Dy() })
		if m := max(w, h); m > MaxDimension {
			scale := float64(MaxDimension) / float64(m)
			w = int(float64(w) * scale)
			h = int(float64(h) * scale)
		}
		tiles := make([]*image.NRGBA, 4)
		for i := 0; i < 4; i++ {
			if i < len(images) {
				tiles[i] = imaging.Resize(images[i], w, h, imaging.Lanczos)
			} else {
				tiles[i] = imaging.New(w, h, color.NRGBA{A: 255})
			}
		}
		top := concatH(tiles[:2], h)
		bottom := concatH(tiles[2:], h)
		return concatV([]*image.NRGBA{top, bottom}, top.Bounds().Dx()), nil

	default:
		return nil, domain.QualityError(
			"Unsupported composition layout",
			"Choose horizontal, vertical or grid_2x2.",
		)
	}
}

// ThumbnailSide is the square preview size stored next to fusion results.
const ThumbnailSide = 256

// Thumbnail produces the square preview, scaling to fill and center-cropping.
func Thumbnail(img image.Image) *image.NRGBA {
	return imaging.Thumbnail(img, ThumbnailSide, ThumbnailSide, imaging.Lanczos)
}

func concatH(images []*image.NRGBA, height int) *image.NRGBA {
	width := 0
	for _, img := range images {
		width += img.Bounds().Dx()
	}
	out := imaging.New(width, height, color.NRGBA{A: 255})
	x := 0
	for _, img := range images {
		out = imaging.Paste(out, img, image.Pt(x, 0))
		x += img.Bounds().Dx()
	}
	return out
}

func concatV(images []*image.NRGBA, width int) *image.NRGBA {
	height := 0
	for _, img := range images {
		height += img.Bounds().Dy()
	}
	out := imaging.New(width, height, color.NRGBA{A: 255})
	y := 0
	for _, img := range images {
		out = imaging.Paste(out, img, image.Pt(0, y))
		y += img.Bounds().Dy()
	}
	return out
}

func minSide(images []*image.NRGBA, side func(*image.NRGBA) int) int {
	m := side(images[0])
	for _, img := range images[1:] {
		if s := side(img); s < m {
			m = s
		}
	}
	return m
}
