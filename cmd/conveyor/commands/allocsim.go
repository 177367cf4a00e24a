package commands

import (
	"math/rand"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/conveyor/internal/bytesize"
	"github.com/vkngwrapper/conveyor/memutils"
	"github.com/vkngwrapper/conveyor/region"
	"golang.org/x/exp/slog"
)

type allocSimOptions struct {
	size      string
	alignment uint
	ops       int
	seed      int64
	maxAlloc  string
	coalesce  int
}

func newAllocSimCommand(loadConfig configLoader) *cobra.Command {
	var options allocSimOptions

	cmd := &cobra.Command{
		Use:   "allocsim",
		Short: "Run a random allocate/free workload against a region allocator and print its map",
		Long: `allocsim drives a region allocator with a seeded random mix of Allocate and Free calls,
validates its bookkeeping after every call and prints the final slot map as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger := cfg.Logging.NewLogger(cmd.ErrOrStderr())
			out, err := runAllocSim(logger, options)
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(append(out, '\n'))
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.size, "size", "64Ki", "initial backing size")
	flags.UintVar(&options.alignment, "alignment", 256, "offset alignment, 0 or a power of two")
	flags.IntVar(&options.ops, "ops", 1000, "number of Allocate and Free calls")
	flags.Int64Var(&options.seed, "seed", 1, "random seed")
	flags.StringVar(&options.maxAlloc, "max-alloc", "4Ki", "largest single allocation")
	flags.IntVar(&options.coalesce, "coalesce", 0, "coalesce free slots every N calls, never when 0")

	return cmd
}

func runAllocSim(logger *slog.Logger, options allocSimOptions) ([]byte, error) {
	initialSize, err := bytesize.Parse(options.size)
	if err != nil {
		return nil, err
	}
	maxAlloc, err := bytesize.Parse(options.maxAlloc)
	if err != nil {
		return nil, err
	}
	if maxAlloc == 0 {
		return nil, cerrors.New("max-alloc must be positive")
	}
	if options.ops < 0 {
		return nil, cerrors.Newf("ops must not be negative, but was %d", options.ops)
	}

	allocator, err := region.New(logger, initialSize.Int(), options.alignment)
	if err != nil {
		return nil, err
	}
	defer allocator.Destroy()

	random := rand.New(rand.NewSource(options.seed))
	var live []int
	var growths, merged int

	for op := 0; op < options.ops; op++ {
		if len(live) == 0 || random.Intn(5) < 3 {
			offset, grewTo, err := allocator.Allocate(1 + random.Intn(maxAlloc.Int()))
			if err != nil {
				return nil, err
			}
			if grewTo > 0 {
				growths++
			}
			live = append(live, offset)
		} else {
			index := random.Intn(len(live))
			err = allocator.Free(live[index])
			if err != nil {
				return nil, err
			}
			live[index] = live[len(live)-1]
			live = live[:len(live)-1]
		}

		if options.coalesce > 0 && (op+1)%options.coalesce == 0 {
			merged += allocator.Coalesce()
		}

		err = allocator.Validate()
		if err != nil {
			return nil, cerrors.Wrapf(err, "allocator is inconsistent after call %d", op)
		}
	}

	var stats memutils.DetailedStatistics
	stats.Clear()
	allocator.AddDetailedStatistics(&stats)

	logger.Info("allocsim finished",
		slog.Int("ops", options.ops),
		slog.Int("live", len(live)),
		slog.Int("growths", growths),
		slog.Int("merged", merged),
		slog.Int("backing", allocator.BackingSize()),
		slog.Int("unused", stats.UnusedBytes()),
	)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	allocator.PrintDetailedMap(obj)
	statsObj := obj.Name("Statistics").Object()
	stats.PrintJson(statsObj)
	statsObj.End()
	obj.End()

	return writer.Bytes(), writer.Error()
}
