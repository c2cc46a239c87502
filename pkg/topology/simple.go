// Package topology decides whether adding a voxel to a digital object
// preserves its topology.
//
// Objects use 26-connectivity and the background 6-connectivity. A voxel is
// simple when it is 26-adjacent to exactly one object component of its
// neighbourhood and 6-adjacent to exactly one background component of its
// 18-neighbourhood; only then can it be added or removed without creating or
// merging components, cavities or handles.
//
// The 26 neighbours of a voxel form a configuration that fits in a 32-bit
// key. Table memoizes the verdict for every configuration it has seen, so a
// run over a large boundary only evaluates each distinct configuration once.
package topology

import (
	"sync"
	"sync/atomic"
)

// Config is a 26-bit neighbourhood pattern. Bit k is set when the k-th
// neighbour (see Offsets) belongs to the object.
type Config uint32

// Offsets lists the 26 neighbour offsets in bit order.
var Offsets = func() [26][3]int {
	var out [26][3]int
	k := 0
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				out[k] = [3]int{dx, dy, dz}
				k++
			}
		}
	}
	return out
}()

var (
	adj26 [26][]int
	adj6  [26][]int
	in18  [26]bool
	face6 [26]bool
)

func init() {
	for i, a := range Offsets {
		n := abs(a[0]) + abs(a[1]) + abs(a[2])
		in18[i] = n <= 2
		face6[i] = n == 1
		for j, b := range Offsets {
			if i == j {
				continue
			}
			d := [3]int{abs(a[0] - b[0]), abs(a[1] - b[1]), abs(a[2] - b[2])}
			if d[0] <= 1 && d[1] <= 1 && d[2] <= 1 {
				adj26[i] = append(adj26[i], j)
				if d[0]+d[1]+d[2] == 1 {
					adj6[i] = append(adj6[i], j)
				}
			}
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Pattern builds the configuration of voxel (x, y, z) from a membership test.
// inside must report false for coordinates outside the grid.
func Pattern(inside func(x, y, z int) bool, x, y, z int) Config {
	var c Config
	for k, o := range Offsets {
		if inside(x+o[0], y+o[1], z+o[2]) {
			c |= 1 << uint(k)
		}
	}
	return c
}

// IsSimple evaluates the simple point test for a configuration without
// memoization.
func IsSimple(c Config) bool {
	return objectComponents(c) == 1 && backgroundComponents(c) == 1
}

// objectComponents counts the 26-connected components of the object voxels
// in the neighbourhood.
func objectComponents(c Config) int {
	var seen uint32
	count := 0
	var stack [26]int
	for s := 0; s < 26; s++ {
		if c&(1<<uint(s)) == 0 || seen&(1<<uint(s)) != 0 {
			continue
		}
		count++
		top := 0
		stack[top] = s
		top++
		seen |= 1 << uint(s)
		for top > 0 {
			top--
			i := stack[top]
			for _, j := range adj26[i] {
				bit := uint32(1) << uint(j)
				if c&Config(bit) != 0 && seen&bit == 0 {
					seen |= bit
					stack[top] = j
					top++
				}
			}
		}
	}
	return count
}

// backgroundComponents counts the 6-connected background components of the
// 18-neighbourhood that touch one of the six face neighbours.
func backgroundComponents(c Config) int {
	var seen uint32
	count := 0
	var stack [26]int
	for s := 0; s < 26; s++ {
		if !face6[s] || c&(1<<uint(s)) != 0 || seen&(1<<uint(s)) != 0 {
			continue
		}
		count++
		top := 0
		stack[top] = s
		top++
		seen |= 1 << uint(s)
		for top > 0 {
			top--
			i := stack[top]
			for _, j := range adj6[i] {
				bit := uint32(1) << uint(j)
				if in18[j] && c&Config(bit) == 0 && seen&bit == 0 {
					seen |= bit
					stack[top] = j
					top++
				}
			}
		}
	}
	return count
}

// Table memoizes simple point verdicts per configuration. It is safe for
// concurrent use.
type Table struct {
	entries sync.Map
	lookups atomic.Int64
	misses  atomic.Int64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// IsSimple reports whether a voxel with configuration c is simple.
func (t *Table) IsSimple(c Config) bool {
	t.lookups.Add(1)
	if v, ok := t.entries.Load(c); ok {
		return v.(bool)
	}
	t.misses.Add(1)
	simple := IsSimple(c)
	t.entries.Store(c, simple)
	return simple
}

// Stats returns the number of lookups and of configurations evaluated.
func (t *Table) Stats() (lookups, evaluated int64) {
	return t.lookups.Load(), t.misses.Load()
}
