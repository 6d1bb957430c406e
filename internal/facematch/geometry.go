package facematch

import "image"

// BBox is a face bounding box [x1, y1, x2, y2] in pixel coordinates.
type BBox [4]float64

// Width returns the box width, zero for inverted boxes.
func (b BBox) Width() float64 {
	return max(b[2]-b[0], 0)
}

// Height returns the box height, zero for inverted boxes.
func (b BBox) Height() float64 {
	return max(b[3]-b[1], 0)
}

// Area returns the box area.
func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}

// FromRelative converts a relative (0-1) box to pixel coordinates for an image
// of the given size. Detectors such as the SSD ResNet model report relative boxes.
func FromRelative(b BBox, width, height int) BBox {
	w, h := float64(width), float64(height)
	return BBox{b[0] * w, b[1] * h, b[2] * w, b[3] * h}
}

// ClampToImage truncates the box to integer pixels inside bounds.
// The returned rectangle is empty when the box does not overlap the image.
func ClampToImage(b BBox, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(int(b[0]), int(b[1]), int(b[2]), int(b[3])).Canon()
	r = r.Add(bounds.Min)
	return r.Intersect(bounds)
}
