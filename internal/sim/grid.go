package sim

import (
	"fmt"

	"github.com/themuffinator/q2repro-test-sub001/internal/state"
)

const (
	CellSize = 256.0
	GridCols = 15
	GridRows = 15
	// NumAreas counts area 0, the void outside the grid.
	NumAreas = GridCols*GridRows + 1

	WorldMin = -CellSize * GridCols / 2
	WorldMax = CellSize * GridCols / 2
)

type portal struct{ a, b int }

func portalKey(a, b int) portal {
	if a > b {
		a, b = b, a
	}
	return portal{a, b}
}

// Grid is the world's spatial index. Its cells double as map areas joined
// by portals between neighbours, and bucket entity numbers for broad-phase
// queries.
type Grid struct {
	cells      [GridCols * GridRows][]int32
	closed     map[portal]bool
	group      [NumAreas]int
	viewRadius float32
}

// NewGrid returns a grid with every portal open. viewRadius bounds the PVS;
// the PHS reaches twice as far.
func NewGrid(viewRadius float32) *Grid {
	g := &Grid{closed: make(map[portal]bool), viewRadius: viewRadius}
	g.flood()
	return g
}

func cellCoords(x, y float32) (int, int, bool) {
	if x < WorldMin || x >= WorldMax || y < WorldMin || y >= WorldMax {
		return 0, 0, false
	}
	return int((x - WorldMin) / CellSize), int((y - WorldMin) / CellSize), true
}

// clampCell is like cellCoords but pins outside points to the border.
func clampCell(x, y float32) int {
	cx := int((x - WorldMin) / CellSize)
	cy := int((y - WorldMin) / CellSize)
	if cx < 0 {
		cx = 0
	} else if cx >= GridCols {
		cx = GridCols - 1
	}
	if cy < 0 {
		cy = 0
	} else if cy >= GridRows {
		cy = GridRows - 1
	}
	return cy*GridCols + cx
}

// PointArea returns the area containing p, 0 outside the grid.
func (g *Grid) PointArea(p state.Vec3) int {
	cx, cy, ok := cellCoords(p[0], p[1])
	if !ok {
		return 0
	}
	return cy*GridCols + cx + 1
}

func adjacent(a, b int) bool {
	if a <= 0 || b <= 0 || a >= NumAreas || b >= NumAreas {
		return false
	}
	ax, ay := (a-1)%GridCols, (a-1)/GridCols
	bx, by := (b-1)%GridCols, (b-1)/GridCols
	dx, dy := ax-bx, ay-by
	return dx*dx+dy*dy == 1
}

// SetPortal opens or closes the portal between two neighbouring areas.
func (g *Grid) SetPortal(a, b int, open bool) error {
	if !adjacent(a, b) {
		return fmt.Errorf("areas %d and %d are not neighbours", a, b)
	}
	k := portalKey(a, b)
	if open {
		delete(g.closed, k)
	} else {
		g.closed[k] = true
	}
	g.flood()
	return nil
}

// PortalOpen reports whether the portal between a and b is open.
func (g *Grid) PortalOpen(a, b int) bool {
	return adjacent(a, b) && !g.closed[portalKey(a, b)]
}

// flood recomputes which areas reach each other through open portals.
func (g *Grid) flood() {
	for i := range g.group {
		g.group[i] = 0
	}
	next := 0
	stack := make([]int, 0, NumAreas)
	for start := 1; start < NumAreas; start++ {
		if g.group[start] != 0 {
			continue
		}
		next++
		g.group[start] = next
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			a := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := (a-1)%GridCols, (a-1)/GridCols
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || nx >= GridCols || ny < 0 || ny >= GridRows {
					continue
				}
				b := ny*GridCols + nx + 1
				if g.group[b] != 0 || g.closed[portalKey(a, b)] {
					continue
				}
				g.group[b] = next
				stack = append(stack, b)
			}
		}
	}
}

// AreaConnected reports whether a and b reach each other through open
// portals.
func (g *Grid) AreaConnected(a, b int) bool {
	if a == b {
		return true
	}
	if a <= 0 || b <= 0 || a >= NumAreas || b >= NumAreas {
		return false
	}
	return g.group[a] == g.group[b]
}

// AreaBits writes one bit per area connected to area. From the void every
// area is marked.
func (g *Grid) AreaBits(area int, dst []byte) int {
	n := (NumAreas + 7) / 8
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = 0
	}
	for b := 1; b < NumAreas && b/8 < n; b++ {
		if area == 0 || g.AreaConnected(area, b) {
			dst[b/8] |= 1 << (b % 8)
		}
	}
	return n
}

// InPVS reports whether point is within view range of view.
func (g *Grid) InPVS(view, point state.Vec3) bool {
	return state.DistanceSq(view, point) <= g.viewRadius*g.viewRadius
}

// InPHS reports whether point is within hearing range of view.
func (g *Grid) InPHS(view, point state.Vec3) bool {
	r := 2 * g.viewRadius
	return state.DistanceSq(view, point) <= r*r
}

// Clear empties the broad-phase buckets, keeping their capacity.
func (g *Grid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

// Insert files entity number under the cell containing p.
func (g *Grid) Insert(p state.Vec3, number int32) {
	idx := clampCell(p[0], p[1])
	g.cells[idx] = append(g.cells[idx], number)
}

// QueryBuf appends the entity numbers in cells overlapping the square of
// half-size radius around p.
func (g *Grid) QueryBuf(p state.Vec3, radius float32, buf []int32) []int32 {
	lo := clampCell(p[0]-radius, p[1]-radius)
	hi := clampCell(p[0]+radius, p[1]+radius)
	minX, minY := lo%GridCols, lo/GridCols
	maxX, maxY := hi%GridCols, hi/GridCols
	for cy := minY; cy <= maxY; cy++ {
		for cx := minX; cx <= maxX; cx++ {
			buf = append(buf, g.cells[cy*GridCols+cx]...)
		}
	}
	return buf
}
