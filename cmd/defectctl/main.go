package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"defect-predictor/internal/cfg"
	"defect-predictor/internal/common"
)

var settings cfg.Settings

var rootCmd = &cobra.Command{
	Use:           "defectctl",
	Short:         "Train, evaluate and query software defect models",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = cfg.Load()
		if err != nil {
			return err
		}
		level := settings.LogLevel
		if verbose {
			level = "debug"
		}
		common.SetupLogging(level, "console")
		return nil
	},
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(generateCmd, trainCmd, evaluateCmd, predictCmd, statusCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
