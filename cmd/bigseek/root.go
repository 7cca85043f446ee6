package main

import (
	"github.com/spf13/cobra"

	"github.com/gavinyap/bigseek/internal/config"
)

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:           "bigseek",
		Short:         "Telegram bot that streams DeepSeek answers from OpenRouter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("log-level", "", "Logging level: trace|debug|info|warn|error.")
	cmd.PersistentFlags().String("log-format", "", "Logging format: console|json.")
	cmd.PersistentFlags().String("db", "", "SQLite database path.")
	_ = v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", cmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("db.path", cmd.PersistentFlags().Lookup("db"))

	// Running the bot is the default action.
	run := newRunCmd(v)
	cmd.RunE = run.RunE
	cmd.Flags().AddFlagSet(run.Flags())

	cmd.AddCommand(run)
	cmd.AddCommand(newStatsCmd(v))
	cmd.AddCommand(newVersionCmd())
	return cmd
}
