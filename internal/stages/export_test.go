package stages

import "testing"

func TestUpscaleToHDSquare(t *testing.T) {
	out := Upscale(testImage(640, 480), HDExportSide)
	b := out.Bounds()
	if b.Dx() != HDExportSide || b.Dy() != HDExportSide {
		t.Fatalf("Upscale() = %dx%d, want %dx%d", b.Dx(), b.Dy(), HDExportSide, HDExportSide)
	}
}

func TestWatermarkAltersPixels(t *testing.T) {
	src := testImage(400, 400)
	out := Watermark(src, "iris-art")

	if out.Bounds() != src.Bounds() {
		t.Fatalf("Watermark() bounds = %v, want %v", out.Bounds(), src.Bounds())
	}
	changed := 0
	for i := range src.Pix {
		if out.Pix[i] != src.Pix[i] {
			changed++
		}
	}
	if changed == 0 {
		t.Fatalf("Watermark() left the image untouched")
	}
}

func TestWatermarkScalesPatternOnHDOutput(t *testing.T) {
	// Wide enough to trigger the pattern upscale path.
	src := Upscale(testImage(64, 64), HDExportSide)
	out := Watermark(src, "iris-art")

	b := out.Bounds()
	if b.Dx() != HDExportSide || b.Dy() != HDExportSide {
		t.Fatalf("Watermark() = %dx%d, want %dx%d", b.Dx(), b.Dy(), HDExportSide, HDExportSide)
	}
	changed := 0
	for i := range src.Pix {
		if out.Pix[i] != src.Pix[i] {
			changed++
		}
	}
	if changed == 0 {
		t.Fatalf("Watermark() left the HD image untouched")
	}
}
