package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nstogner/smartmodel/pkg/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	cmd := &cobra.Command{
		Use:           "smartmodel",
		Short:         "Structured generation and sandboxed Python execution driven by language models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			if opts.logFile != "" {
				cfg.Log.File = opts.logFile
			}
			// The TUI owns the terminal, so chat always logs to a file.
			if cmd.Name() == "chat" && cfg.Log.File == "" {
				cfg.Log.File = "smartmodel.log"
			}
			return a.init(cfg)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.Close()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")

	cmd.AddCommand(
		newChatCmd(a),
		newGenerateCmd(a),
		newExecCmd(a),
		newRunCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newModelsCmd(a),
	)
	return cmd
}

func (a *app) init(cfg *config.Config) error {
	logger, closeLog, err := cfg.Logger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg = cfg
	a.logger = logger
	a.closers = append(a.closers, closeLog)
	logger.Debug("Logging initialized", "level", cfg.Log.Level)
	return nil
}
