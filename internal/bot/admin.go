package bot

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/gavinyap/bigseek/internal/sink"
	"github.com/gavinyap/bigseek/internal/store"
)

// ActiveWindowDays is the window of the "active users" figure.
const ActiveWindowDays = 30

// StatsSource is the read side of the user repository.
type StatsSource interface {
	TotalUsers(ctx context.Context) (int64, error)
	ActiveUsers(ctx context.Context, days int) (int64, error)
	TotalMessages(ctx context.Context) (int64, error)
	OldestActivity(ctx context.Context) (time.Time, bool, error)
	MostActive(ctx context.Context) (store.User, bool, error)
}

// Stats is the admin report.
type Stats struct {
	TotalUsers    int64
	ActiveUsers   int64
	TotalMessages int64
	DailyAverage  float64
	MostActive    *store.User
}

// CollectStats gathers the admin report as of now.
func CollectStats(ctx context.Context, src StatsSource, now time.Time) (Stats, error) {
	var s Stats
	var err error

	if s.TotalUsers, err = src.TotalUsers(ctx); err != nil {
		return s, err
	}
	if s.ActiveUsers, err = src.ActiveUsers(ctx, ActiveWindowDays); err != nil {
		return s, err
	}
	if s.TotalMessages, err = src.TotalMessages(ctx); err != nil {
		return s, err
	}

	oldest, ok, err := src.OldestActivity(ctx)
	if err != nil {
		return s, err
	}
	if ok {
		days := now.Sub(oldest).Hours() / 24
		if days < 1 {
			days = 1
		}
		s.DailyAverage = float64(s.TotalMessages) / days
	}

	top, ok, err := src.MostActive(ctx)
	if err != nil {
		return s, err
	}
	if ok {
		s.MostActive = &top
	}
	return s, nil
}

// MostActiveLabel renders the most active user for display.
func (s Stats) MostActiveLabel() string {
	if s.MostActive == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s messages)", s.MostActive.DisplayName(), humanize.Comma(int64(s.MostActive.MessagesCount)))
}

func (s Stats) String() string {
	var b strings.Builder
	b.WriteString("📊 Bot Statistics Report\n\n")
	fmt.Fprintf(&b, "👥 Total Users: %s\n", humanize.Comma(s.TotalUsers))
	fmt.Fprintf(&b, "🟢 Active Users (%d days): %s\n", ActiveWindowDays, humanize.Comma(s.ActiveUsers))
	fmt.Fprintf(&b, "💬 Total Messages Processed: %s\n", humanize.Comma(s.TotalMessages))
	fmt.Fprintf(&b, "📈 Daily Messages (Avg): %s\n", humanize.CommafWithDigits(s.DailyAverage, 1))
	fmt.Fprintf(&b, "👤 Most Active User: %s", s.MostActiveLabel())
	return b.String()
}

func (b *Bot) sendStats(ctx context.Context, chatID int64) {
	logger := b.logger.With().Int64("chat_id", chatID).Logger()
	out := b.newSink(chatID, logger)

	stats, err := CollectStats(ctx, b.users, b.now())
	if err != nil {
		logger.Error().Err(err).Msg("failed to collect stats")
		b.notice(ctx, chatID, "❌ Error generating statistics: "+err.Error())
		return
	}

	lang := b.sessions.Language(chatID)
	_, err = out.Update(ctx, sink.NoHandle, stats.String(), sink.WriteOptions{
		Controls: keyboard(lang, ControlUsersList),
		Final:    true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to send stats")
	}
}

func (b *Bot) sendUsersList(ctx context.Context, chatID int64) {
	logger := b.logger.With().Int64("chat_id", chatID).Logger()
	out := b.newSink(chatID, logger)

	users, err := b.users.Users(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list users")
		b.notice(ctx, chatID, "❌ Error listing users: "+err.Error())
		return
	}
	if len(users) == 0 {
		b.notice(ctx, chatID, "No users yet")
		return
	}

	now := b.now()
	entries := make([]string, 0, len(users))
	for _, u := range users {
		entries = append(entries, fmt.Sprintf("👤 User %s\n- id: %d\n- message count: %s\n- last seen: %s",
			u.DisplayName(), u.ID, humanize.Comma(int64(u.MessagesCount)), humanize.RelTime(u.LastSeen(), now, "ago", "from now")))
	}

	for _, page := range paginate(entries, b.cfg.Stream.MaxMessageLength) {
		if err := out.Notice(ctx, page); err != nil {
			logger.Error().Err(err).Msg("failed to send users list")
			return
		}
	}
}

// paginate joins entries with blank lines into pages of at most limit
// characters. An entry longer than limit gets a page of its own.
func paginate(entries []string, limit int) []string {
	const sep = "\n\n"
	var pages []string
	var cur strings.Builder
	curLen := 0

	for _, e := range entries {
		n := utf8.RuneCountInString(e)
		if curLen > 0 && curLen+len(sep)+n > limit {
			pages = append(pages, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += len(sep)
		}
		cur.WriteString(e)
		curLen += n
	}
	if curLen > 0 {
		pages = append(pages, cur.String())
	}
	return pages
}
