package main

import (
	"github.com/spf13/cobra"
	"github.com/wehubfusion/Helios/pkg/concurrency"
	"github.com/wehubfusion/Helios/pkg/config"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
	undo   func()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "helios",
		Short: "Evaluate particle data pipelines",
		Long: "Helios loads simulation trajectories from local files or Azure Blob Storage\n" +
			"and evaluates modifier pipelines on them.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			opts.teardown()
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the configuration")

	cmd.AddCommand(newFramesCmd(opts))
	cmd.AddCommand(newEvalCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func (o *rootOptions) setup() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	logger, err := cfg.Logging.BuildLogger()
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	o.undo = concurrency.InitializeForKubernetes(logger)
	return nil
}

func (o *rootOptions) teardown() {
	if o.undo != nil {
		o.undo()
	}
	if o.logger != nil {
		_ = o.logger.Sync()
	}
}
