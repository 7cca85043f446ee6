package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const day = 24 * time.Hour

// UserRepository tracks message counts and activity per user.
type UserRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// RecordMessage counts one message from the user and refreshes their
// username and activity time.
func (r *UserRepository) RecordMessage(ctx context.Context, userID int64, username string) error {
	now := r.now().UnixMilli()
	var name *string
	if username != "" {
		name = &username
	}

	u := User{ID: userID, Username: name, MessagesCount: 1, LastActive: now}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"messages_count": gorm.Expr("messages_count + 1"),
			"last_active":    now,
			"username":       name,
		}),
	}).Create(&u).Error
	if err != nil {
		return fmt.Errorf("failed to record message for user %d: %w", userID, err)
	}
	return nil
}

// Users returns every user, most recently active first.
func (r *UserRepository) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := r.db.WithContext(ctx).Order("last_active DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// MostActive returns the user with the most messages.
func (r *UserRepository) MostActive(ctx context.Context) (User, bool, error) {
	var users []User
	err := r.db.WithContext(ctx).Order("messages_count DESC").Limit(1).Find(&users).Error
	if err != nil {
		return User{}, false, fmt.Errorf("failed to find most active user: %w", err)
	}
	if len(users) == 0 {
		return User{}, false, nil
	}
	return users[0], true, nil
}

func (r *UserRepository) TotalUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// ActiveUsers counts users seen within the last days.
func (r *UserRepository) ActiveUsers(ctx context.Context, days int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&User{}).
		Where("last_active >= ?", r.cutoff(days)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active users: %w", err)
	}
	return n, nil
}

// ActiveUserIDs lists users seen within the last days.
func (r *UserRepository) ActiveUserIDs(ctx context.Context, days int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&User{}).
		Where("last_active >= ?", r.cutoff(days)).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	return ids, nil
}

func (r *UserRepository) TotalMessages(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := r.db.WithContext(ctx).Model(&User{}).
		Select("SUM(messages_count)").
		Scan(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum messages: %w", err)
	}
	return n.Int64, nil
}

// OldestActivity returns the earliest last-activity time among users. The
// bool is false when there are no users.
func (r *UserRepository) OldestActivity(ctx context.Context) (time.Time, bool, error) {
	var ms sql.NullInt64
	err := r.db.WithContext(ctx).Model(&User{}).
		Select("MIN(last_active)").
		Scan(&ms).Error
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to find oldest activity: %w", err)
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms.Int64), true, nil
}

func (r *UserRepository) cutoff(days int) int64 {
	return r.now().Add(-time.Duration(days) * day).UnixMilli()
}
