package geometry

import (
	"errors"
	"math"
)

// Affine is a 2x3 matrix mapping source pixels to destination pixels.
type Affine [2][3]float64

// ErrSingular is returned when a transform has no inverse.
var ErrSingular = errors.New("affine transform is singular")

// Apply maps a point through the transform.
func (a Affine) Apply(p Point) Point {
	x := float64(p.X)
	y := float64(p.Y)
	return Point{
		X: float32(a[0][0]*x + a[0][1]*y + a[0][2]),
		Y: float32(a[1][0]*x + a[1][1]*y + a[1][2]),
	}
}

// Det returns the determinant of the linear part.
func (a Affine) Det() float64 {
	return a[0][0]*a[1][1] - a[0][1]*a[1][0]
}

// Invert returns the inverse 2x3 transform.
func (a Affine) Invert() (Affine, error) {
	det := a.Det()
	if math.Abs(det) < 1e-10 {
		return Affine{}, ErrSingular
	}
	invDet := 1 / det
	ia := a[1][1] * invDet
	ib := -a[0][1] * invDet
	ic := -a[1][0] * invDet
	id := a[0][0] * invDet
	tx := a[0][2]
	ty := a[1][2]
	return Affine{
		{ia, ib, -(ia*tx + ib*ty)},
		{ic, id, -(ic*tx + id*ty)},
	}, nil
}

// Scale returns the uniform scale factor of a similarity transform.
func (a Affine) Scale() float64 {
	return math.Sqrt(math.Abs(a.Det()))
}

// EstimateSimilarity computes the least-squares similarity transform (rotation,
// uniform scale, translation) mapping src points onto dst points.
//
// Umeyama, "Least-Squares Estimation of Transformation Parameters Between Two
// Point Patterns", IEEE TPAMI 1991. The 2x2 SVD is solved analytically.
func EstimateSimilarity(src, dst []Point) Affine {
	n := len(src)
	if n == 0 || n != len(dst) {
		return Affine{{1, 0, 0}, {0, 1, 0}}
	}

	var srcMx, srcMy, dstMx, dstMy float64
	for i := 0; i < n; i++ {
		srcMx += float64(src[i].X)
		srcMy += float64(src[i].Y)
		dstMx += float64(dst[i].X)
		dstMy += float64(dst[i].Y)
	}
	fn := float64(n)
	srcMx /= fn
	srcMy /= fn
	dstMx /= fn
	dstMy /= fn

	// Cross-covariance H = dst^T * src over centered points, plus src variance.
	var srcVar float64
	var a, b, c, d float64
	for i := 0; i < n; i++ {
		sx := float64(src[i].X) - srcMx
		sy := float64(src[i].Y) - srcMy
		dx := float64(dst[i].X) - dstMx
		dy := float64(dst[i].Y) - dstMy
		srcVar += sx*sx + sy*sy
		a += dx * sx
		b += dx * sy
		c += dy * sx
		d += dy * sy
	}
	srcVar /= fn
	a /= fn
	b /= fn
	c /= fn
	d /= fn

	u00, u01, u10, u11, s0, s1, v00, v01, v10, v11 := svd2x2(a, b, c, d)

	// R = U * V^T with reflection guarded by the determinant sign.
	detUV := (u00*u11 - u01*u10) * (v00*v11 - v01*v10)
	sign := 1.0
	if detUV < 0 {
		sign = -1.0
	}

	r00 := u00*v00 + u01*v10*sign
	r01 := u00*v01 + u01*v11*sign
	r10 := u10*v00 + u11*v10*sign
	r11 := u10*v01 + u11*v11*sign

	sc := 1.0
	if srcVar > 1e-10 {
		sc = (s0 + s1*sign) / srcVar
	}

	tx := dstMx - sc*(r00*srcMx+r01*srcMy)
	ty := dstMy - sc*(r10*srcMx+r11*srcMy)

	return Affine{
		{sc * r00, sc * r01, tx},
		{sc * r10, sc * r11, ty},
	}
}

// svd2x2 solves the SVD of [[a b],[c d]] analytically via two Givens angles.
func svd2x2(a, b, c, d float64) (u00, u01, u10, u11, s0, s1, v00, v01, v10, v11 float64) {
	e := (a + d) / 2
	f := (a - d) / 2
	g := (c + b) / 2
	h := (c - b) / 2

	q := math.Sqrt(e*e + h*h)
	r := math.Sqrt(f*f + g*g)

	s0 = q + r
	s1 = math.Abs(q - r)

	a1 := math.Atan2(g, f)
	a2 := math.Atan2(h, e)

	theta := (a2 - a1) / 2
	phi := (a2 + a1) / 2

	ct := math.Cos(theta)
	st := math.Sin(theta)
	cp := math.Cos(phi)
	sp := math.Sin(phi)

	return cp, -sp, sp, cp, s0, s1, ct, -st, st, ct
}
