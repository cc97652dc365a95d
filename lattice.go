package qnsolve

// popLattice indexes every population vector n with 0 <= n <= N in mixed radix,
// class 0 varying fastest.  Index order visits n - e_r before n for every r,
// which is the order the recursive algorithms need.
type popLattice struct {
	pop     []int
	strides []int
	size    int
}

func newPopLattice(pop []int) *popLattice {
	pl := &popLattice{pop: pop, strides: make([]int, len(pop))}
	pl.size = 1
	for r, n := range pop {
		pl.strides[r] = pl.size
		pl.size *= n + 1
	}
	return pl
}

func (pl *popLattice) index(n []int) int {
	idx := 0
	for r, v := range n {
		idx += v * pl.strides[r]
	}
	return idx
}

// vector decodes idx into n, which must have one entry per class
func (pl *popLattice) vector(idx int, n []int) {
	for r := range pl.pop {
		n[r] = idx % (pl.pop[r] + 1)
		idx /= pl.pop[r] + 1
	}
}

func (pl *popLattice) top() int {
	return pl.size - 1
}

func total(n []int) int {
	t := 0
	for _, v := range n {
		t += v
	}
	return t
}

// forEachBelow calls fn with the index of every vector m, 0 <= m <= n
func (pl *popLattice) forEachBelow(n []int, fn func(m []int, idx int)) {
	m := make([]int, len(n))
	for {
		fn(m, pl.index(m))
		r := 0
		for r < len(n) {
			if m[r] < n[r] {
				m[r] += 1
				break
			}
			m[r] = 0
			r += 1
		}
		if r == len(n) {
			return
		}
	}
}
