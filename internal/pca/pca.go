// Package pca implements the PCA Projector: an N×N Gram-matrix, power
// iteration, and deflation approach to projecting high-dimensional
// embeddings into 2D or 3D for visualization.
package pca

import "math"

// PowerIterations is the fixed iteration count used for each component,
// per spec §4.11.
const PowerIterations = 100

// Point is one projected coordinate, 2 or 3 dimensions wide.
type Point struct {
	Coords []float64
}

// Result is the output of Project.
type Result struct {
	Points             []Point
	VarianceExplained []float64 // only populated for 3D projections
}

// Project centers vectors by mean, forms the Gram matrix, and extracts
// `dimensions` (2 or 3) principal components via power iteration with
// deflation, rescaling so max(|coord|) = 1 across all points.
func Project(vectors [][]float32, dimensions int) Result {
	n := len(vectors)
	if n == 0 {
		return Result{}
	}
	if dimensions != 2 && dimensions != 3 {
		dimensions = 2
	}

	centered := center(vectors)
	gram := gramMatrix(centered)
	trace := traceOf(gram)

	components := make([][]float64, dimensions)
	eigenvalues := make([]float64, dimensions)
	working := cloneMatrix(gram)
	for k := 0; k < dimensions; k++ {
		v, lambda := powerIteration(working, n)
		components[k] = v
		eigenvalues[k] = lambda
		deflate(working, v, lambda, n)
	}

	points := make([]Point, n)
	for i := 0; i < n; i++ {
		coords := make([]float64, dimensions)
		for k := 0; k < dimensions; k++ {
			coords[k] = components[k][i] * math.Sqrt(math.Max(eigenvalues[k], 0))
		}
		points[i] = Point{Coords: coords}
	}

	rescale(points, dimensions)

	res := Result{Points: points}
	if dimensions == 3 && trace != 0 {
		res.VarianceExplained = make([]float64, dimensions)
		for k := 0; k < dimensions; k++ {
			res.VarianceExplained[k] = eigenvalues[k] / trace
		}
	}
	return res
}

func center(vectors [][]float32) [][]float64 {
	n := len(vectors)
	d := len(vectors[0])
	mean := make([]float64, d)
	for _, v := range vectors {
		for j := 0; j < d; j++ {
			mean[j] += float64(v[j])
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	out := make([][]float64, n)
	for i, v := range vectors {
		row := make([]float64, d)
		for j := 0; j < d; j++ {
			row[j] = float64(v[j]) - mean[j]
		}
		out[i] = row
	}
	return out
}

func gramMatrix(centered [][]float64) [][]float64 {
	n := len(centered)
	g := make([][]float64, n)
	for i := range g {
		g[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var dot float64
			for k := range centered[i] {
				dot += centered[i][k] * centered[j][k]
			}
			g[i][j] = dot
			g[j][i] = dot
		}
	}
	return g
}

func traceOf(g [][]float64) float64 {
	var t float64
	for i := range g {
		t += g[i][i]
	}
	return t
}

func cloneMatrix(g [][]float64) [][]float64 {
	out := make([][]float64, len(g))
	for i, row := range g {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// powerIteration returns the dominant unit eigenvector and eigenvalue of g,
// seeded with v_i = sin(0.7i + 1.3) for reproducibility, per spec §4.11.
func powerIteration(g [][]float64, n int) ([]float64, float64) {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.Sin(0.7*float64(i) + 1.3)
	}
	v = normalizeVec(v)

	for iter := 0; iter < PowerIterations; iter++ {
		next := make([]float64, n)
		for i := 0; i < n; i++ {
			var sum float64
			for j := 0; j < n; j++ {
				sum += g[i][j] * v[j]
			}
			next[i] = sum
		}
		norm := normOf(next)
		if norm < 1e-12 {
			break
		}
		for i := range next {
			next[i] /= norm
		}
		v = next
	}

	// Rayleigh quotient for the eigenvalue.
	gv := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += g[i][j] * v[j]
		}
		gv[i] = sum
	}
	var lambda float64
	for i := range v {
		lambda += v[i] * gv[i]
	}
	return v, lambda
}

func deflate(g [][]float64, v []float64, lambda float64, n int) {
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			g[i][j] -= lambda * v[i] * v[j]
		}
	}
}

func normalizeVec(v []float64) []float64 {
	norm := normOf(v)
	if norm < 1e-12 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func normOf(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func rescale(points []Point, dimensions int) {
	maxAbs := 0.0
	for _, p := range points {
		for _, c := range p.Coords {
			if math.Abs(c) > maxAbs {
				maxAbs = math.Abs(c)
			}
		}
	}
	if maxAbs < 1e-10 {
		for i := range points {
			coords := make([]float64, dimensions)
			for k := 0; k < dimensions; k++ {
				coords[k] = math.Sin(0.7*float64(i)+1.3) * 1e-9
			}
			points[i].Coords = coords
		}
		return
	}
	for i := range points {
		for k := range points[i].Coords {
			points[i].Coords[k] /= maxAbs
		}
	}
}
