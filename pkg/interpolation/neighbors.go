package interpolation

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"vtkkrig/internal/models"
)

// indexedPoint is a sample location that remembers its position in the
// sample slice
type indexedPoint struct {
	models.Point3D
	index int
}

// Compare implements the kdtree.Comparable interface
func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(indexedPoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// indexedPoints satisfies kdtree.Interface
type indexedPoints []indexedPoint

func (p indexedPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexedPoints) Len() int                              { return len(p) }
func (p indexedPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p indexedPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{indexedPoints: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{indexedPoints: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for indexedPoints
type pointPlane struct {
	indexedPoints
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.indexedPoints[i].X < p.indexedPoints[j].X
	case 1:
		return p.indexedPoints[i].Y < p.indexedPoints[j].Y
	case 2:
		return p.indexedPoints[i].Z < p.indexedPoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{indexedPoints: p.indexedPoints[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.indexedPoints[i], p.indexedPoints[j] = p.indexedPoints[j], p.indexedPoints[i]
}

// neighborIndex answers nearest-sample queries over a fixed point set
type neighborIndex struct {
	tree *kdtree.Tree
}

func newNeighborIndex(points []models.Point3D) *neighborIndex {
	items := make(indexedPoints, len(points))
	for i, p := range points {
		items[i] = indexedPoint{Point3D: p, index: i}
	}
	return &neighborIndex{tree: kdtree.New(items, false)}
}

// nearest returns the indices of the k points closest to q, nearest first.
func (n *neighborIndex) nearest(q models.Point3D, k int) []int {
	keeper := kdtree.NewNKeeper(k)
	n.tree.NearestSet(keeper, indexedPoint{Point3D: q, index: -1})
	return collect(keeper.Heap)
}

// within returns the indices of the points no further than r from q.
func (n *neighborIndex) within(q models.Point3D, r float64) []int {
	keeper := kdtree.NewDistKeeper(r * r)
	n.tree.NearestSet(keeper, indexedPoint{Point3D: q, index: -1})
	return collect(keeper.Heap)
}

func collect(heap kdtree.Heap) []int {
	items := make([]kdtree.ComparableDist, 0, len(heap))
	for _, item := range heap {
		// Skip the sentinel value
		if item.Comparable == nil {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Dist != items[j].Dist {
			return items[i].Dist < items[j].Dist
		}
		return items[i].Comparable.(indexedPoint).index < items[j].Comparable.(indexedPoint).index
	})
	out := make([]int, len(items))
	for i, item := range items {
		out[i] = item.Comparable.(indexedPoint).index
	}
	return out
}

// mergeCoincident averages the values of samples closer than zeroDistance to
// one another. The first sample of each group keeps its location. It returns
// the reduced samples and the number of samples folded away.
func mergeCoincident(points []models.Point3D, values []float64) ([]models.Point3D, []float64, int) {
	if len(points) < 2 {
		return points, values, 0
	}

	index := newNeighborIndex(points)
	assigned := make([]bool, len(points))
	outPoints := make([]models.Point3D, 0, len(points))
	outValues := make([]float64, 0, len(values))

	for i, p := range points {
		if assigned[i] {
			continue
		}
		sum, count := 0.0, 0
		for _, j := range index.within(p, zeroDistance) {
			if assigned[j] {
				continue
			}
			assigned[j] = true
			sum += values[j]
			count++
		}
		if !assigned[i] {
			// the query point itself always lies within the radius
			assigned[i] = true
			sum += values[i]
			count++
		}
		outPoints = append(outPoints, p)
		outValues = append(outValues, sum/float64(count))
	}
	return outPoints, outValues, len(points) - len(outPoints)
}
