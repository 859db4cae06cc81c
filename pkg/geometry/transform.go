package geometry

import (
	"fmt"
	"math"
)

// Transform holds the coordinate transformation parameters attached to a
// strategy. The application order is fixed: flip, scale, rotate, translate.
// Rotation is about the origin; callers needing rotation around another
// point re-center via the offsets.
type Transform struct {
	RotationAngle float64 `json:"rotationAngleDeg"`
	ScaleFactor   float64 `json:"scaleFactor"`
	OffsetX       float64 `json:"offsetX"`
	OffsetY       float64 `json:"offsetY"`
	FlipX         bool    `json:"flipX"`
	FlipY         bool    `json:"flipY"`
}

// IdentityTransform returns the transform that maps every point to itself.
func IdentityTransform() Transform {
	return Transform{ScaleFactor: 1.0}
}

// Validate checks the transform parameters against their documented ranges.
func (t Transform) Validate() error {
	if t.RotationAngle < -360 || t.RotationAngle > 360 {
		return fmt.Errorf("geometry: rotation angle %.3f outside [-360, 360]", t.RotationAngle)
	}
	if t.ScaleFactor <= 0 {
		return fmt.Errorf("geometry: scale factor %.6f must be > 0", t.ScaleFactor)
	}
	return nil
}

// IsIdentity reports whether applying the transform is a no-op.
func (t Transform) IsIdentity() bool {
	return t.RotationAngle == 0 && t.ScaleFactor == 1 &&
		t.OffsetX == 0 && t.OffsetY == 0 && !t.FlipX && !t.FlipY
}

// Apply maps p through flip, scale, rotate, translate.
func (t Transform) Apply(p Point2D) Point2D {
	x, y := p.X, p.Y

	if t.FlipX {
		x = -x
	}
	if t.FlipY {
		y = -y
	}

	x *= t.ScaleFactor
	y *= t.ScaleFactor

	if t.RotationAngle != 0 {
		rad := t.RotationAngle * math.Pi / 180.0
		cos := math.Cos(rad)
		sin := math.Sin(rad)
		x, y = x*cos-y*sin, x*sin+y*cos
	}

	return Point2D{X: x + t.OffsetX, Y: y + t.OffsetY}
}

// ApplyInverse undoes Apply: translate, rotate, scale, flip, in reverse.
// The scale factor must be non-zero.
func (t Transform) ApplyInverse(p Point2D) Point2D {
	x := p.X - t.OffsetX
	y := p.Y - t.OffsetY

	if t.RotationAngle != 0 {
		rad := -t.RotationAngle * math.Pi / 180.0
		cos := math.Cos(rad)
		sin := math.Sin(rad)
		x, y = x*cos-y*sin, x*sin+y*cos
	}

	if t.ScaleFactor != 0 {
		x /= t.ScaleFactor
		y /= t.ScaleFactor
	}

	if t.FlipX {
		x = -x
	}
	if t.FlipY {
		y = -y
	}

	return Point2D{X: x, Y: y}
}
