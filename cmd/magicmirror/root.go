package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dudu/magicmirror/internal/config"
	"github.com/dudu/magicmirror/internal/logging"
	"github.com/dudu/magicmirror/internal/task"
)

var version = "dev"

var (
	cfg     *config.Config
	manager *task.Manager

	flagModelsDir string
	flagLogLevel  string
	flagEnhance   bool
)

var rootCmd = &cobra.Command{
	Use:           "magicmirror",
	Short:         "Offline face replacement for images and video",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if flagModelsDir != "" {
			cfg.ModelsDir = flagModelsDir
		}
		if flagLogLevel != "" {
			cfg.LogLevel = flagLogLevel
		}
		if rootCmd.PersistentFlags().Changed("enhance") {
			cfg.Swap.Enhance = flagEnhance
		}
		logging.Init(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if manager != nil {
			_ = manager.Close()
		}
	},
}

// taskManager lazily builds the façade so commands like version skip model
// directory checks entirely.
func taskManager() (*task.Manager, error) {
	if manager != nil {
		return manager, nil
	}
	m, err := task.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	manager = m
	return manager, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("magicmirror", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagModelsDir, "models", "", "models directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagEnhance, "enhance", false, "run GFPGAN enhancement on swapped faces")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(swapCmd)
	rootCmd.AddCommand(swapVideoCmd)
}
