package qnsolve

// mcl-sample.go integrates the exponentiated log-integrand by importance sampling
// from a multivariate Student-t proposal centred at the stationary point.  Samples
// are drawn in fixed-size batches; batch b draws from a source seeded with seed+b,
// so the estimate depends on the seed and sample budget but not on the number of
// workers.  Batches share only read-only state and each returns its own partial sum.

import (
	"fmt"
	"math"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

const (
	proposalDOF  = 5.0
	mclBatchSize = 256
)

// sampleSpec is what the sampler needs from a located stationary point
type sampleSpec struct {
	mode    []float64
	cov     *mat.SymDense
	logf    func(v []float64) float64
	samples int
	seed    uint64
	threads int
	digits  uint32
}

// importanceSample returns the log of the estimated integral of exp(logf)
func importanceSample(ss *sampleSpec) (float64, error) {
	if _, ok := distmv.NewStudentsT(ss.mode, ss.cov, proposalDOF, rand.NewSource(ss.seed)); !ok {
		return math.NaN(), solverErr(nil, "proposal covariance is not positive definite")
	}

	nbatch := (ss.samples + mclBatchSize - 1) / mclBatchSize
	partial := make([]*decimalSum, nbatch)
	rejected := make([]int, nbatch)

	threads := ss.threads
	if threads < 1 {
		threads = 1
	}
	var panicked any
	var panicMu sync.Mutex
	pool, err := ants.NewPool(threads, ants.WithPanicHandler(func(p interface{}) {
		panicMu.Lock()
		panicked = p
		panicMu.Unlock()
	}))
	if err != nil {
		return math.NaN(), solverErr(err, "cannot start sampling workers")
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for b := 0; b < nbatch; b++ {
		b := b
		n := mclBatchSize
		if rest := ss.samples - b*mclBatchSize; rest < n {
			n = rest
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			partial[b], rejected[b] = sampleBatch(ss, ss.seed+uint64(b), n)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			return math.NaN(), solverErr(err, "cannot submit sampling batch %d", b)
		}
	}
	wg.Wait()
	if panicked != nil {
		return math.NaN(), solverErr(fmt.Errorf("%v", panicked), "sampling batch failed")
	}

	total := newDecimalSum(ss.digits)
	zeros := 0
	for b := range partial {
		if partial[b] == nil {
			return math.NaN(), solverErr(nil, "sampling batch %d produced no result", b)
		}
		if err := total.merge(partial[b]); err != nil {
			return math.NaN(), solverErr(err, "cannot accumulate importance weights")
		}
		zeros += rejected[b]
	}
	logger.Debug("importance sampling finished",
		zap.Int("samples", ss.samples), zap.Int("batches", nbatch), zap.Int("zeroWeights", zeros))

	lm, err := total.logMean(ss.samples)
	if err != nil {
		return math.NaN(), solverErr(err, "cannot take the log of the sampled mean")
	}
	if math.IsInf(lm, -1) {
		return lm, solverErr(nil, "importance sampling produced no positive weight")
	}
	return lm, nil
}

// sampleBatch draws n proposal points and sums their weights exp(logf - log q).
// It also returns the number of points that contributed zero.
func sampleBatch(ss *sampleSpec, seed uint64, n int) (*decimalSum, int) {
	dist, _ := distmv.NewStudentsT(ss.mode, ss.cov, proposalDOF, rand.NewSource(seed))
	sum := newDecimalSum(ss.digits)
	zeros := 0
	v := make([]float64, len(ss.mode))
	for i := 0; i < n; i++ {
		dist.Rand(v)
		lw := ss.logf(v) - dist.LogProb(v)
		if !sum.addExp(lw) {
			zeros += 1
		}
	}
	return sum, zeros
}
