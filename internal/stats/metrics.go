// Package stats evaluates rendered images against ground truth: PSNR and
// SSIM, plus the color-space conversions evaluation drivers need.
package stats

import (
	"fmt"
	"math"

	"radiance/internal/geom"
)

// MSEToPSNR converts a mean squared error to PSNR, assuming a maximum
// pixel value of 1.
func MSEToPSNR(mse float64) float64 {
	return -10 / math.Ln10 * math.Log(mse)
}

// PSNRToMSE inverts MSEToPSNR.
func PSNRToMSE(psnr float64) float64 {
	return math.Exp(-0.1 * math.Ln10 * psnr)
}

// SSIMToDSSIM converts a similarity to a dissimilarity.
func SSIMToDSSIM(ssim float64) float64 {
	return (1 - ssim) / 2
}

// DSSIMToSSIM inverts SSIMToDSSIM.
func DSSIMToSSIM(dssim float64) float64 {
	return 1 - 2*dssim
}

// LinearToSRGB applies the piecewise sRGB transfer curve to a linear value
// in [0, 1].
func LinearToSRGB(linear float64) float64 {
	if linear <= 0.0031308 {
		return 323.0 / 25.0 * linear
	}
	base := math.Max(1e-12, linear)
	return (211*math.Pow(base, 5.0/12.0) - 11) / 200
}

// SRGBToLinear inverts LinearToSRGB.
func SRGBToLinear(srgb float64) float64 {
	if srgb <= 0.04045 {
		return 25.0 / 323.0 * srgb
	}
	return math.Pow(math.Max(1e-12, (200*srgb+11)/211), 12.0/5.0)
}

// MSE returns the mean squared error over all pixels and channels.
// Mismatched image shapes are fatal.
func MSE(pred, truth []geom.Vec3) (float64, error) {
	if len(pred) != len(truth) {
		return 0, fmt.Errorf("stats: %d predicted pixels vs %d truth", len(pred), len(truth))
	}
	if len(pred) == 0 {
		return 0, fmt.Errorf("stats: empty image")
	}
	sum := 0.0
	for i := range pred {
		d := pred[i].Sub(truth[i])
		sum += d.Dot(d)
	}
	return sum / float64(3*len(pred)), nil
}

// PSNR returns the peak signal-to-noise ratio between two images.
func PSNR(pred, truth []geom.Vec3) (float64, error) {
	mse, err := MSE(pred, truth)
	if err != nil {
		return 0, err
	}
	return MSEToPSNR(mse), nil
}

// Downsample area-averages an image by the given factor, which must evenly
// divide both dimensions.
func Downsample(img []geom.Vec3, width, height, factor int) ([]geom.Vec3, int, int, error) {
	if factor <= 0 || width%factor != 0 || height%factor != 0 {
		return nil, 0, 0, fmt.Errorf("stats: factor %d does not divide %dx%d", factor, width, height)
	}
	if len(img) != width*height {
		return nil, 0, 0, fmt.Errorf("stats: image has %d pixels, want %d", len(img), width*height)
	}
	w, h := width/factor, height/factor
	out := make([]geom.Vec3, w*h)
	inv := 1.0 / float64(factor*factor)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := geom.Vec3{}
			for dy := 0; dy < factor; dy++ {
				for dx := 0; dx < factor; dx++ {
					sum = sum.Add(img[(y*factor+dy)*width+(x*factor+dx)])
				}
			}
			out[y*w+x] = sum.Scale(inv)
		}
	}
	return out, w, h, nil
}

// SSIM computes the structural similarity of two images over luminance,
// with an 11-tap Gaussian window and the standard stabilizing constants.
func SSIM(pred, truth []geom.Vec3, width, height int) (float64, error) {
	if len(pred) != len(truth) || len(pred) != width*height {
		return 0, fmt.Errorf("stats: ssim shape mismatch: %d/%d pixels for %dx%d", len(pred), len(truth), width, height)
	}
	const (
		c1 = 0.01 * 0.01
		c2 = 0.03 * 0.03
	)
	kernel := gaussianKernel(11, 1.5)
	half := len(kernel) / 2

	lumaP := make([]float64, len(pred))
	lumaT := make([]float64, len(truth))
	for i := range pred {
		lumaP[i] = luma(pred[i])
		lumaT[i] = luma(truth[i])
	}

	sum := 0.0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var muP, muT, wSum float64
			var sigP, sigT, cov float64
			for ky := -half; ky <= half; ky++ {
				for kx := -half; kx <= half; kx++ {
					px, py := x+kx, y+ky
					if px < 0 || px >= width || py < 0 || py >= height {
						continue
					}
					w := kernel[ky+half] * kernel[kx+half]
					muP += w * lumaP[py*width+px]
					muT += w * lumaT[py*width+px]
					wSum += w
				}
			}
			muP /= wSum
			muT /= wSum
			for ky := -half; ky <= half; ky++ {
				for kx := -half; kx <= half; kx++ {
					px, py := x+kx, y+ky
					if px < 0 || px >= width || py < 0 || py >= height {
						continue
					}
					w := kernel[ky+half] * kernel[kx+half] / wSum
					dp := lumaP[py*width+px] - muP
					dt := lumaT[py*width+px] - muT
					sigP += w * dp * dp
					sigT += w * dt * dt
					cov += w * dp * dt
				}
			}
			sum += ((2*muP*muT + c1) * (2*cov + c2)) /
				((muP*muP + muT*muT + c1) * (sigP + sigT + c2))
		}
	}
	return sum / float64(width*height), nil
}

// MetricHarness evaluates the standard error metrics between a predicted
// and a ground-truth image.
type MetricHarness struct {
	ComputeSSIM bool
}

func (h MetricHarness) Evaluate(pred, truth []geom.Vec3, width, height int) (map[string]float64, error) {
	psnr, err := PSNR(pred, truth)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{"psnr": psnr}
	if h.ComputeSSIM {
		ssim, err := SSIM(pred, truth, width, height)
		if err != nil {
			return nil, err
		}
		out["ssim"] = ssim
	}
	return out, nil
}

func luma(c geom.Vec3) float64 {
	return 0.2126*c.X + 0.7152*c.Y + 0.0722*c.Z
}

func gaussianKernel(size int, sigma float64) []float64 {
	kernel := make([]float64, size)
	half := size / 2
	for i := range kernel {
		d := float64(i - half)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
	}
	return kernel
}
