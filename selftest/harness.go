package selftest

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/openfluke/tensorvk/gpu"
)

// Scenario names one self-test case paired with the thunk that runs
// it.
type Scenario struct {
	Name string
	Run  func(ctx *gpu.Context) Result
}

// DefaultSuite returns the standard scenario set. It has no
// write_2d_zeropad scenario, and MatmulF32's uploads go through the
// unpadded Write2D path, so the zero-pad upload is not exercised here.
func DefaultSuite() []Scenario {
	return []Scenario{
		{Name: "f32_to_f16_256", Run: func(*gpu.Context) Result { return F32ToF16RoundTrip(256) }},
		{Name: "matmul_f32_64x64x64", Run: func(c *gpu.Context) Result { return MatmulF32(c, 64, 64, 64) }},
		{Name: "matmul_f32_split_k", Run: func(c *gpu.Context) Result { return MatmulF32(c, 32, 32, 512) }},
		{Name: "pool_fit_reuse_1mb", Run: func(c *gpu.Context) Result { return PoolFitReuse(c, 1<<20) }},
	}
}

// RunSuite runs every scenario against ctx, logging progress through a
// rate limiter so a large suite doesn't flood logf with one line per
// scenario — the harness only prints as fast as the limiter allows,
// falling behind silently rather than blocking a scenario on I/O.
func RunSuite(ctx *gpu.Context, scenarios []Scenario, logf func(string, ...any)) []Result {
	limiter := rate.NewLimiter(rate.Every(200*time.Millisecond), 1)
	results := make([]Result, 0, len(scenarios))

	for i, sc := range scenarios {
		r := sc.Run(ctx)
		results = append(results, r)

		if logf == nil {
			continue
		}
		if limiter.AllowN(time.Now(), 1) || i == len(scenarios)-1 {
			logf("[%d/%d] %s: passed=%v mean_rel_err=%.3g bad=%d/%d",
				i+1, len(scenarios), r.Name, r.Passed, r.MeanRelErr, r.BadCount, r.Elements)
		}
	}
	return results
}

// WaitForLogSlot blocks until the rate limiter would allow another log
// line, for long-running loops that want their log lines capped to a
// fixed rate regardless of how fast the loop itself runs.
func WaitForLogSlot(ctx context.Context, limiter *rate.Limiter) error {
	return limiter.Wait(ctx)
}

// Summarize renders a one-line pass/fail rollup, used by cmd/vkselftest
// as its process exit-code signal.
func Summarize(results []Result) (passed, failed int, summary string) {
	for _, r := range results {
		if r.Passed {
			passed++
		} else {
			failed++
		}
	}
	summary = fmt.Sprintf("%d passed, %d failed (of %d)", passed, failed, len(results))
	return
}
