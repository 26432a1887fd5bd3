// Package vis turns rendered ray outputs into viewable images: color,
// depth, normal and opacity maps, written as WebP.
package vis

import (
	"fmt"
	"image"
	"math"
	"os"
	"sort"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"

	"radiance/internal/geom"
	"radiance/internal/stats"
)

// Frame is a full-image render laid out row-major.
type Frame struct {
	Width   int
	Height  int
	Colors  []geom.Vec3
	Depths  []float64
	Accs    []float64
	Normals []geom.Vec3
}

func (f Frame) validate() error {
	n := f.Width * f.Height
	if len(f.Colors) != n || len(f.Depths) != n || len(f.Accs) != n || len(f.Normals) != n {
		return fmt.Errorf("vis: frame buffers %d/%d/%d/%d for %dx%d",
			len(f.Colors), len(f.Depths), len(f.Accs), len(f.Normals), f.Width, f.Height)
	}
	return nil
}

// WeightedPercentile returns the value at percentile p (0..100) of values
// under the given weights.
func WeightedPercentile(values, weights []float64, p float64) float64 {
	type pair struct{ v, w float64 }
	pairs := make([]pair, len(values))
	total := 0.0
	for i := range values {
		pairs[i] = pair{values[i], weights[i]}
		total += weights[i]
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })
	if total <= 0 {
		return 0
	}
	target := p / 100 * total
	acc := 0.0
	for _, pr := range pairs {
		acc += pr.w
		if acc >= target {
			return pr.v
		}
	}
	return pairs[len(pairs)-1].v
}

// Sinebow is a cyclic, perceptually even colormap.
func Sinebow(h float64) geom.Vec3 {
	f := func(x float64) float64 {
		s := math.Sin(math.Pi * x)
		return s * s
	}
	return geom.New(f(3.0/6-h), f(5.0/6-h), f(7.0/6-h))
}

// matte blends a color over a checkerboard in proportion to how little
// opacity the ray accumulated, so empty space reads as background.
func matte(c geom.Vec3, acc float64, x, y int) geom.Vec3 {
	const width = 8
	dark, light := 0.8, 1.0
	bg := dark
	if (x/width+y/width)%2 == 0 {
		bg = light
	}
	return c.Scale(acc).Add(geom.Splat(bg * (1 - acc)))
}

// ColorImage converts the linear-radiance colors to an sRGB image.
func ColorImage(f Frame) (*image.NRGBA, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	return toImage(f, func(i, x, y int) geom.Vec3 {
		c := f.Colors[i].Clamp(0, 1)
		return geom.New(stats.LinearToSRGB(c.X), stats.LinearToSRGB(c.Y), stats.LinearToSRGB(c.Z))
	}), nil
}

// DepthImage maps expected distance through the sinebow colormap, with
// bounds chosen by weighted percentile so outliers do not flatten the
// image, matted over a checkerboard where nothing accumulated.
func DepthImage(f Frame) (*image.NRGBA, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	lo := WeightedPercentile(f.Depths, f.Accs, 0.5)
	hi := WeightedPercentile(f.Depths, f.Accs, 99.5)
	span := hi - lo
	if span <= 0 {
		span = 1
	}
	return toImage(f, func(i, x, y int) geom.Vec3 {
		t := (f.Depths[i] - lo) / span
		if math.IsNaN(t) {
			t = 0
		}
		c := Sinebow(math.Min(math.Max(t, 0), 1))
		return matte(c, f.Accs[i], x, y)
	}), nil
}

// NormalImage remaps unit normals from [-1, 1] to RGB.
func NormalImage(f Frame) (*image.NRGBA, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	return toImage(f, func(i, x, y int) geom.Vec3 {
		c := f.Normals[i].Scale(0.5).Add(geom.Splat(0.5)).Clamp(0, 1)
		return matte(c, f.Accs[i], x, y)
	}), nil
}

// AccImage renders accumulated opacity as grayscale.
func AccImage(f Frame) (*image.NRGBA, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	return toImage(f, func(i, x, y int) geom.Vec3 {
		return geom.Splat(math.Min(math.Max(f.Accs[i], 0), 1))
	}), nil
}

// Upscale resizes an image by an integer factor with nearest-neighbor
// sampling, keeping the blocky preview look for small eval renders.
func Upscale(img *image.NRGBA, factor int) *image.NRGBA {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// WriteWebP encodes the image losslessly to path.
func WriteWebP(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := nativewebp.Encode(f, img, nil); err != nil {
		_ = f.Close()
		return fmt.Errorf("webp encode: %w", err)
	}
	return f.Close()
}

func toImage(f Frame, pixel func(i, x, y int) geom.Vec3) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			c := pixel(y*f.Width+x, x, y)
			offset := img.PixOffset(x, y)
			img.Pix[offset] = toByte(c.X)
			img.Pix[offset+1] = toByte(c.Y)
			img.Pix[offset+2] = toByte(c.Z)
			img.Pix[offset+3] = 255
		}
	}
	return img
}

func toByte(v float64) uint8 {
	scaled := v * 255
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return uint8(scaled + 0.5)
}
