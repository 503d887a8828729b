// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the message deduplication gate: a
// write-once record per inbound message id guaranteeing each message is
// folded into conversation state at most once, even across restarts.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/otl-fi/email-assistant/internal/domain"
)

// ErrDuplicate indicates that a processed-message record already exists for
// the given message id.
var ErrDuplicate = errors.New("duplicate")

// IsProcessed reports whether a record exists for messageID.
func IsProcessed(ctx context.Context, db *gorm.DB, messageID string) (bool, error) {
	if strings.TrimSpace(messageID) == "" {
		return false, nil
	}
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ProcessedMessage{}).
		Where("message_id = ?", messageID).
		Count(&n).Error
	if err != nil {
		return false, storeErr(err)
	}
	return n > 0, nil
}

// MarkProcessed atomically records messageID as folded into conversationID.
// Returns ErrDuplicate on replay; the insert is idempotent under concurrent
// or repeated invocation for the same id thanks to the primary key.
func MarkProcessed(ctx context.Context, db *gorm.DB, messageID, conversationID string) error {
	rec := &domain.ProcessedMessage{
		MessageID:      messageID,
		ConversationID: conversationID,
		ProcessedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return storeErr(err)
	}
	return nil
}

// isUniqueViolation detects primary-key/unique-index violations.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
