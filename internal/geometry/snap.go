package geometry

import (
	"fmt"
	"math"
	"sort"

	"github.com/peterstace/simplefeatures/geom"
)

// gridSnapper implements snap rounding on a fixed grid. Every vertex and
// every segment intersection marks the grid cell it rounds into as a hot
// pixel. Segments are then rebuilt through each hot pixel they cross, so
// shapes that pass close to a grid node get noded at it and share edges
// with their neighbours after rounding.
type gridSnapper struct {
	size   float64
	half   float64
	digits int
	pixels map[[2]int64]geom.XY
}

func newGridSnapper(size float64) *gridSnapper {
	return &gridSnapper{
		size:   size,
		half:   size / 2,
		digits: gridDigits(size),
		pixels: make(map[[2]int64]geom.XY),
	}
}

type segment struct {
	a, b geom.XY
}

func (s segment) minX() float64 { return math.Min(s.a.X, s.b.X) }
func (s segment) maxX() float64 { return math.Max(s.a.X, s.b.X) }

// snapRound returns the basic parts (points, lines, polygons) of geoms with
// every coordinate on the grid. Parts that collapse are dropped.
func snapRound(geoms []geom.Geometry, size float64) ([]geom.Geometry, error) {
	s := newGridSnapper(size)

	var parts []geom.Geometry
	var segs []segment
	for _, g := range geoms {
		for _, part := range g.Force2D().Dump() {
			if part.IsEmpty() {
				continue
			}
			parts = append(parts, part)
			for _, seq := range sequencesOf(part) {
				for i := 0; i < seq.Length(); i++ {
					s.addPixel(seq.GetXY(i))
				}
				for i := 0; i+1 < seq.Length(); i++ {
					segs = append(segs, segment{seq.GetXY(i), seq.GetXY(i + 1)})
				}
			}
		}
	}
	s.addIntersections(segs)

	out := make([]geom.Geometry, 0, len(parts))
	for _, part := range parts {
		snapped, ok, err := s.snapPart(part)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, snapped)
		}
	}
	return out, nil
}

// round moves a coordinate to the nearest grid node.
func (s *gridSnapper) round(xy geom.XY) geom.XY {
	return geom.XY{X: s.roundValue(xy.X), Y: s.roundValue(xy.Y)}
}

func (s *gridSnapper) roundValue(v float64) float64 {
	r := math.Round(v/s.size) * s.size
	// Re-round to suppress binary noise such as 0.30000000000000004.
	if s.digits >= 0 {
		p := math.Pow(10, float64(s.digits))
		r = math.Round(r*p) / p
	}
	if r == 0 {
		return 0
	}
	return r
}

func (s *gridSnapper) cell(v float64) int64 {
	return int64(math.Round(v / s.size))
}

func (s *gridSnapper) addPixel(xy geom.XY) {
	key := [2]int64{s.cell(xy.X), s.cell(xy.Y)}
	if _, ok := s.pixels[key]; !ok {
		s.pixels[key] = s.round(xy)
	}
}

// addIntersections marks the crossing points of all segment pairs, using
// a sweep over x to skip pairs that cannot meet.
func (s *gridSnapper) addIntersections(segs []segment) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].minX() < segs[j].minX() })
	for i := range segs {
		maxX := segs[i].maxX()
		for j := i + 1; j < len(segs) && segs[j].minX() <= maxX; j++ {
			if xy, ok := intersect(segs[i], segs[j]); ok {
				s.addPixel(xy)
			}
		}
	}
}

// intersect returns the single crossing point of two segments. Parallel
// segments report none; their shared points are vertices already.
func intersect(p, q segment) (geom.XY, bool) {
	r := p.b.Sub(p.a)
	d := q.b.Sub(q.a)
	denom := r.Cross(d)
	if denom == 0 {
		return geom.XY{}, false
	}
	qp := q.a.Sub(p.a)
	t := qp.Cross(d) / denom
	u := qp.Cross(r) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return geom.XY{}, false
	}
	return p.a.Add(r.Scale(t)), true
}

// snapSequence rounds a vertex sequence and inserts the hot pixels each
// segment passes through, in order along the segment.
func (s *gridSnapper) snapSequence(seq geom.Sequence) []geom.XY {
	n := seq.Length()
	if n == 0 {
		return nil
	}
	out := make([]geom.XY, 0, n)
	for i := 0; i+1 < n; i++ {
		a, b := seq.GetXY(i), seq.GetXY(i+1)
		out = appendDistinct(out, s.round(a))
		for _, xy := range s.pixelsOn(a, b) {
			out = appendDistinct(out, xy)
		}
	}
	return appendDistinct(out, s.round(seq.GetXY(n-1)))
}

func appendDistinct(xys []geom.XY, xy geom.XY) []geom.XY {
	if len(xys) > 0 && xys[len(xys)-1] == xy {
		return xys
	}
	return append(xys, xy)
}

// pixelsOn returns the hot pixels crossed by segment ab, other than those
// of its own endpoints, ordered from a to b.
func (s *gridSnapper) pixelsOn(a, b geom.XY) []geom.XY {
	ra, rb := s.round(a), s.round(b)
	minCX, maxCX := s.cell(math.Min(a.X, b.X)), s.cell(math.Max(a.X, b.X))
	minCY, maxCY := s.cell(math.Min(a.Y, b.Y)), s.cell(math.Max(a.Y, b.Y))

	type hit struct {
		xy geom.XY
		t  float64
	}
	var hits []hit
	consider := func(p geom.XY) {
		if p == ra || p == rb || !s.crosses(a, b, p) {
			return
		}
		ab := b.Sub(a)
		hits = append(hits, hit{p, p.Sub(a).Dot(ab) / ab.Dot(ab)})
	}

	cells := (maxCX - minCX + 1) * (maxCY - minCY + 1)
	if cells > 0 && cells <= int64(len(s.pixels)) {
		for cx := minCX; cx <= maxCX; cx++ {
			for cy := minCY; cy <= maxCY; cy++ {
				if p, ok := s.pixels[[2]int64{cx, cy}]; ok {
					consider(p)
				}
			}
		}
	} else {
		for key, p := range s.pixels {
			if key[0] >= minCX && key[0] <= maxCX && key[1] >= minCY && key[1] <= maxCY {
				consider(p)
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].t < hits[j].t })
	out := make([]geom.XY, len(hits))
	for i, h := range hits {
		out[i] = h.xy
	}
	return out
}

// crosses reports whether segment ab meets the pixel centred on p. The
// pixel is half open: its top and right edges belong to the neighbours.
func (s *gridSnapper) crosses(a, b, p geom.XY) bool {
	eps := s.size * 1e-9
	return clipsBox(a, b, p.X-s.half, p.Y-s.half, p.X+s.half-eps, p.Y+s.half-eps)
}

// clipsBox is the Liang-Barsky test of segment ab against a closed box.
func clipsBox(a, b geom.XY, minX, minY, maxX, maxY float64) bool {
	t0, t1 := 0.0, 1.0
	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return false
			}
			t0 = math.Max(t0, r)
		} else {
			if r < t0 {
				return false
			}
			t1 = math.Min(t1, r)
		}
		return true
	}
	dx, dy := b.X-a.X, b.Y-a.Y
	return clip(-dx, a.X-minX) && clip(dx, maxX-a.X) &&
		clip(-dy, a.Y-minY) && clip(dy, maxY-a.Y)
}

// snapPart snaps one point, line or polygon. ok is false when the part
// collapses.
func (s *gridSnapper) snapPart(part geom.Geometry) (geom.Geometry, bool, error) {
	switch part.Type() {
	case geom.TypePoint:
		xy, ok := part.MustAsPoint().XY()
		if !ok {
			return geom.Geometry{}, false, nil
		}
		return s.round(xy).AsPoint().AsGeometry(), true, nil

	case geom.TypeLineString:
		xys := s.snapSequence(part.MustAsLineString().Coordinates())
		if len(xys) < 2 {
			return geom.Geometry{}, false, nil
		}
		return geom.NewLineString(sequence(xys)).AsGeometry(), true, nil

	case geom.TypePolygon:
		var rings []geom.LineString
		for i, seq := range part.MustAsPolygon().Coordinates() {
			xys := cleanRing(s.snapSequence(seq))
			if xys == nil {
				if i == 0 {
					return geom.Geometry{}, false, nil
				}
				continue
			}
			rings = append(rings, geom.NewLineString(sequence(xys)))
		}
		poly := geom.NewPolygon(rings)
		if err := poly.Validate(); err != nil {
			return geom.Geometry{}, false, fmt.Errorf("polygon is invalid after snapping to grid %v: %w", s.size, err)
		}
		return poly.AsGeometry(), true, nil
	}
	return geom.Geometry{}, false, fmt.Errorf("unexpected geometry part %s", part.Type())
}

// cleanRing removes repeated points and spikes from a closed ring. It
// returns nil when fewer than three distinct points or no area remain.
func cleanRing(xys []geom.XY) []geom.XY {
	if len(xys) < 4 {
		return nil
	}
	pts := append([]geom.XY(nil), xys[:len(xys)-1]...)
	for changed := true; changed && len(pts) >= 3; {
		changed = false
		for i := 0; i < len(pts) && len(pts) >= 3; i++ {
			n := len(pts)
			prev, next := pts[(i+n-1)%n], pts[(i+1)%n]
			switch {
			case pts[i] == prev:
				pts = append(pts[:i], pts[i+1:]...)
				changed = true
			case prev == next:
				// A spike: drop the tip and one copy of its base.
				j := (i + 1) % n
				if j > i {
					pts = append(pts[:i], pts[j+1:]...)
				} else {
					pts = pts[1:i]
				}
				changed = true
			}
		}
	}
	if len(pts) < 3 || signedArea(pts) == 0 {
		return nil
	}
	return append(pts, pts[0])
}

func signedArea(pts []geom.XY) float64 {
	var sum float64
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += pts[i].Cross(pts[j])
	}
	return sum / 2
}

func sequencesOf(part geom.Geometry) []geom.Sequence {
	switch part.Type() {
	case geom.TypeLineString:
		return []geom.Sequence{part.MustAsLineString().Coordinates()}
	case geom.TypePolygon:
		return part.MustAsPolygon().Coordinates()
	case geom.TypePoint:
		if xy, ok := part.MustAsPoint().XY(); ok {
			return []geom.Sequence{sequence([]geom.XY{xy})}
		}
	}
	return nil
}

func sequence(xys []geom.XY) geom.Sequence {
	flat := make([]float64, 0, 2*len(xys))
	for _, xy := range xys {
		flat = append(flat, xy.X, xy.Y)
	}
	return geom.NewSequence(flat, geom.DimXY)
}

// gridDigits returns the number of decimal places needed to represent
// multiples of gridSize, or -1 if it has no short decimal form.
func gridDigits(gridSize float64) int {
	for d := 0; d <= 15; d++ {
		p := math.Pow(10, float64(d))
		if math.Abs(gridSize*p-math.Round(gridSize*p)) < 1e-9 {
			return d
		}
	}
	return -1
}
