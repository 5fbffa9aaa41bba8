package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/hupe1980/visualindex"
)

// annotationIndex marks subcommands that need a built Indexer.
const annotationIndex = "visualindex/needs-index"

func NewRootCmd(version string, a *app) *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "visualindex",
		Short:         "Content-based image retrieval",
		Long:          `Index images by their visual content and search for similar images.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd, flags)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	addPersistentFlags(rootCmd, &flags)
	addSubcommands(rootCmd, a)
	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command, flags *globalFlags) {
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the YAML config")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "Log format (text|json)")
	cmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

func addSubcommands(root *cobra.Command, a *app) {
	ix := func() *visualindex.Indexer { return a.indexer }
	cfg := func() *Config { return a.cfg }

	root.AddCommand(
		NewIndexCmd(ix),
		NewSearchCmd(ix),
		NewDeleteCmd(ix),
		NewStatsCmd(ix),
		NewTrainCmd(cfg),
	)
}

func (a *app) setup(cmd *cobra.Command, flags globalFlags) error {
	logger, err := newLogger(cmd.ErrOrStderr(), flags.logLevel, flags.logFormat)
	if err != nil {
		return err
	}
	a.logger = logger

	cfg, err := LoadConfig(flags.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if _, ok := cmd.Annotations[annotationIndex]; !ok {
		return nil
	}
	return a.open(cmd.Context(), flags.metricsAddr)
}

func needsIndex() map[string]string {
	return map[string]string{annotationIndex: "true"}
}

func outputJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
