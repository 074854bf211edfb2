package interpolation

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"vtkkrig/internal/models"
	"vtkkrig/pkg/config"
)

// anisotropy maps raw coordinates into the isotropic space the variogram is
// defined in: translate to the sample centre, rotate, then stretch y and z.
type anisotropy struct {
	center models.Point3D
	m      *mat.Dense
}

// newAnisotropy builds the transform for the given samples. Rotation is
// applied about z, then y, then x, each by the negated angle in degrees.
func newAnisotropy(p config.Params, samples []models.Point3D) anisotropy {
	var lo, hi models.Point3D
	for i, s := range samples {
		if i == 0 {
			lo, hi = s, s
			continue
		}
		lo = models.Point3D{X: math.Min(lo.X, s.X), Y: math.Min(lo.Y, s.Y), Z: math.Min(lo.Z, s.Z)}
		hi = models.Point3D{X: math.Max(hi.X, s.X), Y: math.Max(hi.Y, s.Y), Z: math.Max(hi.Z, s.Z)}
	}
	center := models.Point3D{X: (lo.X + hi.X) / 2, Y: (lo.Y + hi.Y) / 2, Z: (lo.Z + hi.Z) / 2}

	rx := rotationX(-p.AnisotropyAngleX)
	ry := rotationY(-p.AnisotropyAngleY)
	rz := rotationZ(-p.AnisotropyAngleZ)
	stretch := mat.NewDiagDense(3, []float64{1, p.AnisotropyScalingY, p.AnisotropyScalingZ})

	var rxy, rot, m mat.Dense
	rxy.Mul(rx, ry)
	rot.Mul(&rxy, rz)
	m.Mul(stretch, &rot)

	return anisotropy{center: center, m: &m}
}

func (a anisotropy) apply(p models.Point3D) models.Point3D {
	v := mat.NewVecDense(3, []float64{p.X - a.center.X, p.Y - a.center.Y, p.Z - a.center.Z})
	var out mat.VecDense
	out.MulVec(a.m, v)
	return models.Point3D{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

func (a anisotropy) applyAll(points []models.Point3D) []models.Point3D {
	out := make([]models.Point3D, len(points))
	for i, p := range points {
		out[i] = a.apply(p)
	}
	return out
}

func rotationX(deg float64) *mat.Dense {
	s, c := math.Sincos(deg * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

func rotationY(deg float64) *mat.Dense {
	s, c := math.Sincos(deg * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

func rotationZ(deg float64) *mat.Dense {
	s, c := math.Sincos(deg * math.Pi / 180)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}
