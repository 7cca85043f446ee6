package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gavinyap/bigseek/internal/llm"
)

// HistoryRepository stores one conversation per user.
type HistoryRepository struct {
	db *gorm.DB
}

// Get returns the user's stored conversation, empty when there is none.
func (r *HistoryRepository) Get(ctx context.Context, userID int64) ([]llm.Message, error) {
	var row ChatHistory
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %d: %w", userID, err)
	}
	return decodeMessages(row)
}

// Save replaces the user's stored conversation.
func (r *HistoryRepository) Save(ctx context.Context, userID int64, msgs []llm.Message) error {
	if msgs == nil {
		msgs = []llm.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	row := ChatHistory{UserID: userID, Messages: string(data)}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"messages"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save history for %d: %w", userID, err)
	}
	return nil
}

func (r *HistoryRepository) Clear(ctx context.Context, userID int64) error {
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&ChatHistory{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear history for %d: %w", userID, err)
	}
	return nil
}

// Prefetch loads the stored conversations of the given users. Users with
// no row are absent from the result.
func (r *HistoryRepository) Prefetch(ctx context.Context, userIDs []int64) (map[int64][]llm.Message, error) {
	out := make(map[int64][]llm.Message, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	var rows []ChatHistory
	if err := r.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to prefetch histories: %w", err)
	}
	for _, row := range rows {
		msgs, err := decodeMessages(row)
		if err != nil {
			return nil, err
		}
		out[row.UserID] = msgs
	}
	return out, nil
}

func decodeMessages(row ChatHistory) ([]llm.Message, error) {
	var msgs []llm.Message
	if err := json.Unmarshal([]byte(row.Messages), &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode history for %d: %w", row.UserID, err)
	}
	return msgs, nil
}
