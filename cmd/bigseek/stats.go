package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gavinyap/bigseek/internal/bot"
	"github.com/gavinyap/bigseek/internal/config"
	"github.com/gavinyap/bigseek/internal/store"
)

func newStatsCmd(v *viper.Viper) *cobra.Command {
	var listUsers bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print usage statistics from the database",
		Long:  "Print the admin statistics report without connecting to Telegram. The database is opened read-only.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			dbCfg := store.DefaultConfig()
			dbCfg.Path = cfg.DB.Path
			dbCfg.ReadOnly = true
			dbCfg.WAL = false
			db, err := store.Open(dbCfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			now := time.Now()
			stats, err := bot.CollectStats(cmd.Context(), db.Users, now)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), cfg.DB.Path, stats)

			if !listUsers {
				return nil
			}
			users, err := db.Users.Users(cmd.Context())
			if err != nil {
				return err
			}
			printUsers(cmd.OutOrStdout(), users, now)
			return nil
		},
	}

	cmd.Flags().BoolVar(&listUsers, "users", false, "Also list every user, most recently active first.")
	return cmd
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			Underline(true).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			PaddingLeft(2).
			Width(24)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

func printStats(w io.Writer, path string, s bot.Stats) {
	fmt.Fprintln(w, headerStyle.Render("Bot Statistics ("+path+")"))

	rows := [][2]string{
		{"Total users", humanize.Comma(s.TotalUsers)},
		{fmt.Sprintf("Active users (%d days)", bot.ActiveWindowDays), humanize.Comma(s.ActiveUsers)},
		{"Total messages", humanize.Comma(s.TotalMessages)},
		{"Daily messages (avg)", humanize.CommafWithDigits(s.DailyAverage, 1)},
		{"Most active user", s.MostActiveLabel()},
	}
	for _, r := range rows {
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(r[0]), valueStyle.Render(r[1])))
	}
	fmt.Fprintln(w, separatorStyle.Render(strings.Repeat("─", 50)))
}

func printUsers(w io.Writer, users []store.User, now time.Time) {
	for _, u := range users {
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Render(u.DisplayName()),
			valueStyle.Render(fmt.Sprintf("%d", u.ID)),
			labelStyle.Render(humanize.Comma(int64(u.MessagesCount))+" messages"),
			labelStyle.Render(humanize.RelTime(u.LastSeen(), now, "ago", "from now")),
		))
	}
}
