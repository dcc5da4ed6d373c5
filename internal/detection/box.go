package detection

// Width returns the box width, zero for inverted boxes.
func (b BoundingBox) Width() float32 {
	return max(b.X2-b.X1, 0)
}

// Height returns the box height, zero for inverted boxes.
func (b BoundingBox) Height() float32 {
	return max(b.Y2-b.Y1, 0)
}

// Area returns the box area.
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Intersection returns the overlapping area of a and b. Disjoint boxes give 0.
func Intersection(a, b BoundingBox) float32 {
	w := min(a.X2, b.X2) - max(a.X1, b.X1)
	h := min(a.Y2, b.Y2) - max(a.Y1, b.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Union returns area(a) + area(b) - Intersection(a, b).
func Union(a, b BoundingBox) float32 {
	return a.Area() + b.Area() - Intersection(a, b)
}

// IoU returns intersection over union. Zero-area unions give 0, never NaN.
func IoU(a, b BoundingBox) float32 {
	u := Union(a, b)
	if u <= 0 {
		return 0
	}
	return Intersection(a, b) / u
}
