// Package commands implements the conveyor CLI
package commands

import (
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/conveyor/gpu"
	"github.com/vkngwrapper/conveyor/gpu/host"
	"github.com/vkngwrapper/conveyor/gpu/vulkan"
	"github.com/vkngwrapper/conveyor/internal/config"
	"golang.org/x/exp/slog"
)

// NewRootCommand builds the command tree. Every call returns an independent tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "conveyor",
		Short: "Exercise the conveyor GPU allocation and transfer pipeline",
		Long: `conveyor drives the region allocator and the transfer pipeline against the in-memory
host backend or a real Vulkan device.

Every configuration key can be overridden with an environment variable:
CONVEYOR_<SECTION>_<KEY>, for example CONVEYOR_LOGGING_LEVEL=debug.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (defaults and environment only when empty)")

	loadConfig := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(newBenchCommand(loadConfig))
	root.AddCommand(newAllocSimCommand(loadConfig))
	root.AddCommand(newConfigCommand(loadConfig))
	root.CompletionOptions.DisableDefaultCmd = true

	return root
}

// Execute runs the CLI with the process arguments
func Execute() error {
	return NewRootCommand().Execute()
}

type configLoader func() (*config.Config, error)

// openBackend creates the gpu.Device selected by the configuration, along with the function that
// releases it
func openBackend(logger *slog.Logger, cfg *config.Config) (gpu.Device, func(), error) {
	if cfg.Backend == "vulkan" {
		device, err := vulkan.Open(logger, vulkan.OpenOptions{
			ApplicationName:     "conveyor",
			Validation:          cfg.Vulkan.Validation,
			PhysicalDeviceIndex: cfg.Vulkan.PhysicalDevice,
			CreateOptions: vulkan.CreateOptions{
				MappableAll: cfg.Vulkan.MappableAll,
			},
		})
		if err != nil {
			return nil, nil, err
		}
		return device, device.Destroy, nil
	}

	return host.New(host.Options{}), func() {}, nil
}
