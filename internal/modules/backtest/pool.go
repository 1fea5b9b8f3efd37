package backtest

import (
	"sync"

	"github.com/aristath/walkforward/internal/domain"
	"github.com/aristath/walkforward/internal/modules/portfolio"
)

// instrumentEval is the training outcome for one instrument in one window.
// Robustness is present whenever the evaluator produced a certification, even
// for instruments that failed the gate; Candidate is present only for
// instruments eligible for allocation.
type instrumentEval struct {
	instrument string
	robustness *domain.RobustnessResult
	candidate  *portfolio.Candidate
	err        error
}

// evalFunc evaluates one instrument's training data.
type evalFunc func(series domain.PriceSeries) instrumentEval

// Pool runs per-instrument training evaluations on a fixed set of worker
// goroutines. Results come back indexed, so output order always matches input
// order regardless of scheduling.
type Pool struct {
	numWorkers int
}

// NewPool creates a worker pool. Non-positive sizes default to 4 workers.
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &Pool{numWorkers: numWorkers}
}

type jobItem struct {
	index  int
	series domain.PriceSeries
}

type resultItem struct {
	index int
	eval  instrumentEval
}

// EvaluateBatch evaluates every series concurrently and returns outcomes in
// input order.
func (p *Pool) EvaluateBatch(series []domain.PriceSeries, eval evalFunc) []instrumentEval {
	n := len(series)
	if n == 0 {
		return []instrumentEval{}
	}

	jobs := make(chan jobItem, n)
	results := make(chan resultItem, n)

	workers := p.numWorkers
	if n < workers {
		workers = n
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- resultItem{index: job.index, eval: eval(job.series)}
			}
		}()
	}

	for idx, s := range series {
		jobs <- jobItem{index: idx, series: s}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]instrumentEval, n)
	for r := range results {
		outcomes[r.index] = r.eval
	}
	return outcomes
}
