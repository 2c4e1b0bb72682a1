// Command vkinfo dumps the detector's adapter/device report, the
// dependency-free equivalent of running vulkaninfo against this
// backend's chosen device.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/openfluke/tensorvk/detector"
)

func main() {
	var format string
	var countOnly bool

	app := &cli.Command{
		Name:  "vkinfo",
		Usage: "Report the WebGPU adapter/device this backend would select",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Aliases:     []string{"f"},
				Usage:       "output format: json or yaml",
				Value:       "json",
				Destination: &format,
			},
			&cli.BoolFlag{
				Name:        "count",
				Usage:       "only print the number of adapters available",
				Destination: &countOnly,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if countOnly {
				n, err := detector.Count()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				fmt.Println(n)
				return nil
			}

			report, err := detector.Detect()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: detect: %v", err), 1)
			}

			switch format {
			case "yaml":
				b, err := yaml.Marshal(report)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: marshal: %v", err), 1)
				}
				os.Stdout.Write(b)
			default:
				s, err := report.JSON()
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: marshal: %v", err), 1)
				}
				fmt.Println(s)
			}
			return nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
