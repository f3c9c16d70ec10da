package stages

import (
	"errors"
	"image"
	"testing"
)

func TestMaskCentroid(t *testing.T) {
	mask := squareMask(100, 100, 20)
	c := MaskCentroid(mask)
	if c.X < 8 || c.X > 11 || c.Y < 8 || c.Y > 11 {
		t.Fatalf("MaskCentroid() = %v, want near (9,9)", c)
	}
}

func TestMaskCentroidEmptyMask(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 50, 80))
	if c := MaskCentroid(mask); c.X != 25 || c.Y != 40 {
		t.Fatalf("MaskCentroid() = %v, want image center (25,40)", c)
	}
}

func TestAlphaBlendPreservesUnmaskedPixels(t *testing.T) {
	base := testImage(32, 32)
	overlay := image.NewNRGBA(base.Bounds())
	mask := squareMask(32, 32, 8)

	out := AlphaBlend(base, overlay, mask)
	// Fully outside the mask: base pixel untouched.
	if got, want := out.NRGBAAt(30, 30), base.NRGBAAt(30, 30); got != want {
		t.Fatalf("AlphaBlend() pixel outside mask = %v, want %v", got, want)
	}
	// Fully inside the mask: overlay (black) wins.
	if got := out.NRGBAAt(2, 2); got.R != 0 || got.G != 0 || got.B != 0 {
		t.Fatalf("AlphaBlend() pixel inside mask = %v, want black", got)
	}
}

func TestAlphaBlendResizesMismatchedOverlay(t *testing.T) {
	base := testImage(64, 64)
	overlay := testImage(16, 16)
	mask := squareMask(64, 64, 32)

	out := AlphaBlend(base, overlay, mask)
	if b := out.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("AlphaBlend() bounds = %v, want 64x64", b)
	}
}

func TestSeamlessCloneEmptyMaskIsDegenerate(t *testing.T) {
	base := testImage(64, 64)
	overlay := testImage(64, 64)
	mask := image.NewGray(base.Bounds())

	_, err := SeamlessClone(base, overlay, mask, image.Pt(32, 32))
	if !errors.Is(err, ErrDegenerateMask) {
		t.Fatalf("SeamlessClone() error = %v, want ErrDegenerateMask", err)
	}
}

func TestSeamlessCloneOutsideTargetIsDegenerate(t *testing.T) {
	base := testImage(64, 64)
	overlay := testImage(64, 64)
	mask := squareMask(64, 64, 16)

	_, err := SeamlessClone(base, overlay, mask, image.Pt(-500, -500))
	if !errors.Is(err, ErrDegenerateMask) {
		t.Fatalf("SeamlessClone() error = %v, want ErrDegenerateMask", err)
	}
}

func TestSeamlessCloneBlends(t *testing.T) {
	base := testImage(64, 64)
	overlay := testImage(64, 64)
	mask := squareMask(64, 64, 24)

	out, err := SeamlessClone(base, overlay, mask, MaskCentroid(mask))
	if err != nil {
		t.Fatalf("SeamlessClone() unexpected error: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("SeamlessClone() bounds = %v, want 64x64", b)
	}
}

func TestFeatherMaskSoftensEdges(t *testing.T) {
	mask := squareMask(40, 40, 20)
	soft := FeatherMask(mask, 4.0)

	// A pixel just outside the hard edge picks up partial coverage.
	if v := soft.GrayAt(21, 10).Y; v == 0 || v == 255 {
		t.Fatalf("FeatherMask() edge value = %d, want partial coverage", v)
	}
}
