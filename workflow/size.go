package workflow

import "math"

var aspectRatios = map[string][2]float64{
	"1:1":  {1, 1},
	"3:4":  {3, 4},
	"4:3":  {4, 3},
	"16:9": {16, 9},
	"9:16": {9, 16},
}

// SupportedAspectRatio reports whether CalculateSize knows the ratio.
func SupportedAspectRatio(ratio string) bool {
	_, ok := aspectRatios[ratio]
	return ok
}

// CalculateSize reshapes width x height to the aspect ratio while keeping
// the pixel count, rounding both sides to multiples of 8. Unknown ratios
// return the original size.
func CalculateSize(aspectRatio string, width, height int) (int, int) {
	r, ok := aspectRatios[aspectRatio]
	if !ok {
		return width, height
	}
	total := float64(width) * float64(height)
	newHeight := math.Sqrt(total * r[1] / r[0])
	newWidth := newHeight * r[0] / r[1]
	return roundTo8(newWidth), roundTo8(newHeight)
}

func roundTo8(v float64) int {
	return int(math.Floor(v/8+0.5)) * 8
}
