package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/conveyor/datalloc"
	"github.com/vkngwrapper/conveyor/internal/bytesize"
	"github.com/vkngwrapper/conveyor/internal/config"
	"github.com/vkngwrapper/conveyor/metrics"
	"github.com/vkngwrapper/conveyor/transfer"
	"golang.org/x/exp/slog"
)

type benchResult struct {
	size    bytesize.ByteSize
	rounds  int
	elapsed time.Duration
}

func (r benchResult) throughput() float64 {
	if r.elapsed <= 0 {
		return 0
	}

	// Every round uploads and downloads the payload once
	moved := float64(2 * r.rounds * r.size.Int())
	return moved / float64(bytesize.MiB) / r.elapsed.Seconds()
}

func newBenchCommand(loadConfig configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "bench",
		Short: "Measure upload and download round trips through the transfer pipeline",
		Long: `bench uploads a payload of each configured size into a vertex buffer region and
downloads it back, from several producers at once, and reports the throughput per size.

When metrics.listen is set, Prometheus metrics are served on /metrics while the bench runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger := cfg.Logging.NewLogger(cmd.ErrOrStderr())
			results, err := runBench(cmd.Context(), logger, cfg)
			if err != nil {
				return err
			}

			printBenchTable(cmd.OutOrStdout(), results)
			return nil
		},
	}
}

func printBenchTable(w io.Writer, results []benchResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Size", "Rounds", "Elapsed", "MiB/s"})

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, result := range results {
		table.Append([]string{
			result.size.String(),
			strconv.Itoa(result.rounds),
			result.elapsed.Round(time.Microsecond).String(),
			fmt.Sprintf("%.1f", result.throughput()),
		})
	}

	table.Render()
}

func serveMetrics(logger *slog.Logger, listen string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !cerrors.Is(err, http.ErrServerClosed) {
			logger.LogAttrs(context.Background(), slog.LevelError, "metrics server failed", slog.Any("error", err))
		}
	}()

	logger.LogAttrs(context.Background(), slog.LevelInfo, "serving metrics", slog.String("listen", listen))
	return func() {
		_ = server.Close()
	}
}

func runBench(ctx context.Context, logger *slog.Logger, cfg *config.Config) ([]benchResult, error) {
	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg, metrics.Options{QueueNames: transfer.QueueNames})

	if cfg.Metrics.Listen != "" {
		stop := serveMetrics(logger, cfg.Metrics.Listen, reg)
		defer stop()
	}

	device, closeDevice, err := openBackend(logger, cfg)
	if err != nil {
		return nil, err
	}
	defer closeDevice()

	allocator, err := datalloc.New(logger, device, datalloc.CreateOptions{
		InitialSizes: cfg.Buffers.InitialSizes(),
		Metrics:      collectors,
	})
	if err != nil {
		return nil, err
	}
	defer allocator.Destroy()

	pipeline := transfer.New(logger, device, allocator, transfer.CreateOptions{
		Metrics:       collectors,
		QueueMetrics:  collectors,
		QueueCapacity: cfg.Transfer.QueueCapacity,
	})
	defer pipeline.Destroy()

	var results []benchResult
	for _, size := range cfg.Bench.Sizes {
		result, err := benchSize(ctx, pipeline, allocator, size, cfg.Bench.Iterations, cfg.Bench.Producers)
		if err != nil {
			return nil, cerrors.Wrapf(err, "bench of %s payloads failed", size)
		}

		logger.LogAttrs(ctx, slog.LevelInfo, "bench round finished",
			slog.String("size", size.String()),
			slog.Duration("elapsed", result.elapsed),
		)
		results = append(results, result)
	}

	return results, nil
}

func benchSize(ctx context.Context, pipeline *transfer.Pipeline, allocator *datalloc.Allocator, size bytesize.ByteSize, iterations int, producers int) (benchResult, error) {
	perProducer := (iterations + producers - 1) / producers

	// Regions are allocated up front so that no buffer is resized while copies are in flight
	allocations := make([]datalloc.Allocation, 0, producers)
	defer func() {
		for _, allocation := range allocations {
			_ = allocator.Free(allocation)
		}
	}()
	for producer := 0; producer < producers; producer++ {
		allocation, err := allocator.Allocate(datalloc.BufferTypeVertex, size.Int())
		if err != nil {
			return benchResult{}, err
		}
		allocations = append(allocations, allocation)
	}

	start := time.Now()

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(producers)
	for producer, allocation := range allocations {
		seed := byte(producer)
		allocation := allocation
		p.Go(func(ctx context.Context) error {
			payload := make([]byte, size.Int())
			for i := range payload {
				payload[i] = byte(i) ^ seed
			}
			readBack := make([]byte, size.Int())

			for round := 0; round < perProducer; round++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				err := pipeline.UploadBuffer(allocation.Region, 0, payload)
				if err != nil {
					return err
				}

				err = pipeline.DownloadBuffer(allocation.Region, 0, readBack)
				if err != nil {
					return err
				}

				if !bytes.Equal(payload, readBack) {
					return cerrors.Newf("producer %d read back different data in round %d", seed, round)
				}
			}

			return nil
		})
	}

	err := p.Wait()
	return benchResult{
		size:    size,
		rounds:  perProducer * producers,
		elapsed: time.Since(start),
	}, err
}
