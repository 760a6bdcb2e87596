package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"jambot/internal/config"
	"jambot/internal/logging"
)

// commandContext carries the flags subcommands share.
type commandContext struct {
	configPath *string
}

// config loads the validated config needed to run the bot.
func (c *commandContext) config() (*config.Config, error) {
	return config.Load(*c.configPath)
}

// localConfig loads the config for offline tools, which need no token.
func (c *commandContext) localConfig() (*config.Config, error) {
	return config.Read(*c.configPath)
}

// logger builds the process logger. The returned func flushes file output.
func (c *commandContext) logger(cfg *config.Config) (zerolog.Logger, func(), error) {
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return zerolog.Nop(), func() {}, err
	}
	return log, func() { _ = closer.Close() }, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configPath: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "jambot",
		Short:         "Discord music bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "TOML config file (default $"+config.PathEnv+")")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newCatalogCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}
