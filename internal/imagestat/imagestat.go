// Package imagestat scores candidate frames by pixel-value spread so the
// extractor can reject near-blank stills (title cards, fades, credits).
package imagestat

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
)

// Metric computes a spread score for the image at path. Higher means more
// visual information.
type Metric func(path string) (float64, error)

// StandardDeviation decodes the image and returns the largest per-channel
// standard deviation of 8-bit pixel values. A flat single-color frame scores
// 0; typical live frames score well above common thresholds.
func StandardDeviation(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0, fmt.Errorf("empty image %s", path)
	}

	var sum, sumSq [3]float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			channels := [3]float64{
				float64(r >> 8),
				float64(g >> 8),
				float64(b >> 8),
			}
			for i, v := range channels {
				sum[i] += v
				sumSq[i] += v * v
			}
		}
	}

	n := float64(total)
	best := 0.0
	for i := 0; i < 3; i++ {
		mean := sum[i] / n
		variance := sumSq[i]/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		if dev := math.Sqrt(variance); dev > best {
			best = dev
		}
	}
	return best, nil
}

var _ Metric = StandardDeviation
