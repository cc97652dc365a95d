package qnsolve

// recal.go computes the normalizing constant exactly, in rational arithmetic, by
// recursion over the population and the station multiplicities.  With m_k copies
// of single-server station k,
//
//	N_r G(N; m) = Z_r G(N - e_r; m) + sum_k m_k D_kr G(N - e_r; m + e_k)
//
// where Z_r is the total delay demand of class r.  The network itself is m = 1.

import (
	"math/big"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type recal struct {
	Z     []*big.Rat
	D     [][]*big.Rat // single-server queue stations only
	cache map[string]*big.Rat
}

func newRecal(in *SolverInput) *recal {
	rc := &recal{cache: make(map[string]*big.Rat)}
	zf := delayDemands(in)
	for _, z := range zf {
		rc.Z = append(rc.Z, new(big.Rat).SetFloat64(z))
	}
	for k := range in.StationNames {
		if in.isDelay(k) {
			continue
		}
		row := make([]*big.Rat, len(in.Demands[k]))
		for r, d := range in.Demands[k] {
			row[r] = new(big.Rat).SetFloat64(d)
		}
		rc.D = append(rc.D, row)
	}
	return rc
}

func recalKey(n, m []int) string {
	var sb strings.Builder
	for _, v := range n {
		sb.WriteString(strconv.Itoa(v))
		sb.WriteByte(',')
	}
	sb.WriteByte('|')
	for _, v := range m {
		sb.WriteString(strconv.Itoa(v))
		sb.WriteByte(',')
	}
	return sb.String()
}

// G returns the normalizing constant at population n with station multiplicities m.
// Neither slice is modified.
func (rc *recal) G(n, m []int) *big.Rat {
	r := -1
	for s, v := range n {
		if v > 0 {
			r = s
			break
		}
	}
	if r < 0 {
		return big.NewRat(1, 1)
	}
	key := recalKey(n, m)
	if g, ok := rc.cache[key]; ok {
		return g
	}

	sub := removeOne(n, r)
	g := new(big.Rat).Mul(rc.Z[r], rc.G(sub, m))
	term := new(big.Rat)
	for k := range rc.D {
		if m[k] == 0 || rc.D[k][r].Sign() == 0 {
			continue
		}
		mk := append([]int(nil), m...)
		mk[k] += 1
		term.Mul(rc.D[k][r], rc.G(sub, mk))
		term.Mul(term, big.NewRat(int64(m[k]), 1))
		g.Add(g, term)
	}
	g.Quo(g, big.NewRat(int64(n[r]), 1))
	rc.cache[key] = g
	return g
}

func ratFloat(q *big.Rat) float64 {
	f, _ := q.Float64()
	return f
}

// RECALSolver is the exact rational recursion for closed networks of single-server and delay stations
type RECALSolver struct {
	baseSolver
}

func (rs *RECALSolver) Solve() error {
	if err := rs.ready(); err != nil {
		return err
	}
	in := rs.in
	if in.hasLoadDependent() {
		return unsupportedErr("RECAL does not handle multi-server stations")
	}
	rc := newRecal(in)
	pop := closedPopulation(in)
	ones := make([]int, len(rc.D))
	for k := range ones {
		ones[k] = 1
	}

	G := rc.G(pop, ones)
	if G.Sign() <= 0 {
		return solverErr(nil, "normalizing constant vanished")
	}
	prec := floatPrec(in.Precision)
	rs.logG = logBig(new(big.Float).SetPrec(prec).SetRat(G))

	for r := 0; r < rs.R; r++ {
		col := make([]float64, rs.M)
		if pop[r] == 0 {
			rs.fillFromQueueLengths(r, 0, col)
			continue
		}
		sub := removeOne(pop, r)
		X := ratFloat(new(big.Rat).Quo(rc.G(sub, ones), G))
		q := 0
		for k := 0; k < rs.M; k++ {
			if in.isDelay(k) {
				col[k] = in.Demands[k][r] * X
				continue
			}
			aug := append([]int(nil), ones...)
			aug[q] += 1
			num := new(big.Rat).Mul(rc.D[q][r], rc.G(sub, aug))
			col[k] = ratFloat(num.Quo(num, G))
			q += 1
		}
		rs.fillFromQueueLengths(r, X, col)
	}
	logger.Debug("RECAL solved", zap.Int("cached", len(rc.cache)))
	return nil
}
