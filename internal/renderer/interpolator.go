package renderer

import (
	"image/color"
	"math"
)

// DotSteps is the number of distinct typing-indicator poses per cycle.
// Quantizing the animation lets identical poses share one rendered frame.
const DotSteps = 12

// DotCycle is the length of one indicator cycle in seconds.
const DotCycle = 1.2

// DotPhaseAt returns the pose for the n-th frame of an indicator span.
func DotPhaseAt(n, fps int) int {
	if fps <= 0 || n < 0 {
		return 0
	}
	perCycle := DotCycle * float64(fps)
	return int(float64(n)*DotSteps/perCycle) % DotSteps
}

// dotLift returns how far (0..1) dot i is raised in the given pose. Dots
// follow each other with a fixed lag and ease in and out of the peak.
func dotLift(phase, i int) float64 {
	t := float64(phase)/DotSteps - float64(i)*0.2
	t -= math.Floor(t)
	// up during the first half of the cycle, rest otherwise
	if t >= 0.5 {
		return 0
	}
	tri := 1 - math.Abs(4*t-1)
	return easeInOutCubic(tri)
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func lerpColor(a, b color.RGBA, t float64) color.RGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(lerp(float64(x), float64(y), t)))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}

// easeInOutCubic applies smooth easing function
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - pow(-2*t+2, 3)/2
}

// pow calculates x^n
func pow(x float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= x
	}
	return result
}
