// Package pipeline turns a noisy high-frequency pointer stream into smoothed, thresholded
// reveal strokes and paints them.
package pipeline

import "math"

// Point is a position in surface coordinates.
type Point struct {
	X, Y float64
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Lerp interpolates linearly between a and b; t=0 yields a and t=1 yields b.
func Lerp(a, b Point, t float64) Point {
	return Point{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
	}
}

// Steps returns the number of subdivision intervals for a segment of the given length so that
// consecutive points are at most step apart. It is never less than 1.
func Steps(length, step float64) int {
	if step <= 0 || length <= 0 {
		return 1
	}
	n := int(math.Ceil(length / step))
	if n < 1 {
		return 1
	}
	return n
}

// Subdivide returns steps+1 evenly spaced points from a to b inclusive.
func Subdivide(a, b Point, step float64) []Point {
	n := Steps(Distance(a, b), step)
	pts := make([]Point, 0, n+1)
	for i := 0; i <= n; i++ {
		pts = append(pts, Lerp(a, b, float64(i)/float64(n)))
	}
	return pts
}
