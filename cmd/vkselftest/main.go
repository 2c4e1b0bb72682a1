// Command vkselftest runs the C11 self-test harness against the
// backend's default device context and reports pass/fail per scenario.
package main

import (
	"context"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/openfluke/tensorvk/gpu"
	"github.com/openfluke/tensorvk/selftest"
)

func main() {
	var jsonOut bool
	var m, n, k int64

	app := &cli.Command{
		Name:  "vkselftest",
		Usage: "Run the tensorvk GPU backend's numerical self-test suite",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print results as a JSON array instead of text",
				Destination: &jsonOut,
			},
			&cli.Int64Flag{
				Name:        "m",
				Usage:       "additionally run one custom matmul_f32 case with this M",
				Destination: &m,
			},
			&cli.Int64Flag{
				Name:        "n",
				Usage:       "N for the custom matmul_f32 case",
				Destination: &n,
			},
			&cli.Int64Flag{
				Name:        "k",
				Usage:       "K for the custom matmul_f32 case",
				Destination: &k,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			gctx, err := gpu.GetContext()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: device context: %v", err), 1)
			}
			defer gctx.Close()

			scenarios := selftest.DefaultSuite()
			if m > 0 && n > 0 && k > 0 {
				mm, nn, kk := int(m), int(n), int(k)
				scenarios = append(scenarios, selftest.Scenario{
					Name: fmt.Sprintf("matmul_f32_custom_%dx%dx%d", mm, nn, kk),
					Run:  func(c *gpu.Context) selftest.Result { return selftest.MatmulF32(c, mm, nn, kk) },
				})
			}

			results := selftest.RunSuite(gctx, scenarios, func(f string, args ...any) {
				if !jsonOut {
					fmt.Printf(f+"\n", args...)
				}
			})

			if jsonOut {
				b, err := json.MarshalIndent(results, "", "  ")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: marshal: %v", err), 1)
				}
				fmt.Println(string(b))
			}

			passed, failed, summary := selftest.Summarize(results)
			fmt.Fprintln(os.Stderr, summary)
			if failed > 0 {
				return cli.Exit("", 1)
			}
			_ = passed
			return nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
