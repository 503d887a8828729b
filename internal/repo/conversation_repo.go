// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the conversation store: read, create,
// and update of conversation records under optimistic concurrency.
//
// Error semantics:
//   - ErrNotFound when a conversation does not exist.
//   - ErrVersionConflict when a put carries a version that is not exactly
//     one ahead of the stored record. The caller must re-fetch and recompute,
//     never blindly retry the same write.
//   - ErrStoreUnavailable wraps transient driver failures; callers may retry
//     the same operation with backoff.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otl-fi/email-assistant/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrVersionConflict signals a lost-update race: the stored conversation's
// version is not exactly one less than the incoming record's version.
var ErrVersionConflict = errors.New("conversation version conflict")

// ErrStoreUnavailable wraps transient storage failures that are safe to
// retry at the caller's discretion.
var ErrStoreUnavailable = errors.New("store unavailable")

// GetConversation fetches a conversation by identity, including its full
// turn history ordered by position. Returns ErrNotFound if missing.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Preload("Turns", func(tx *gorm.DB) *gorm.DB { return tx.Order("seq asc") }).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	return &c, nil
}

// LatestConversation returns the highest-seq conversation of a thread, or
// ErrNotFound when the thread has never been seen.
func LatestConversation(ctx context.Context, db *gorm.DB, threadKey string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Preload("Turns", func(tx *gorm.DB) *gorm.DB { return tx.Order("seq asc") }).
		Where("thread_key = ?", threadKey).
		Order("seq desc").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	return &c, nil
}

// PutConversation persists a conversation computed by the state machine.
//
// Semantics:
//   - Version 1 inserts a new record. If the identity already exists the
//     insert is reported as ErrVersionConflict so the caller re-fetches.
//   - Version N > 1 updates the stored record only if its version is exactly
//     N-1; otherwise ErrVersionConflict.
//   - Turns with an empty ID are treated as new history entries and inserted
//     (IDs assigned here); existing turns are never touched.
//
// The record and its new turns are written in one transaction so no error
// path can leave the conversation partially updated.
func PutConversation(ctx context.Context, db *gorm.DB, conv *domain.Conversation) error {
	if conv.Version < 1 {
		return fmt.Errorf("invalid version %d", conv.Version)
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if conv.Version == 1 {
			if err := tx.Omit("Turns").Create(conv).Error; err != nil {
				if isUniqueViolation(err) {
					return ErrVersionConflict
				}
				return err
			}
		} else {
			res := tx.Model(&domain.Conversation{}).
				Where("id = ? AND version = ?", conv.ID, conv.Version-1).
				Select(mutableColumns).
				Updates(conv)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrVersionConflict
			}
		}
		now := time.Now().UTC()
		for i := range conv.Turns {
			t := &conv.Turns[i]
			if t.ID != "" {
				continue
			}
			t.ID = uuid.NewString()
			t.ConversationID = conv.ID
			if t.CreatedAt.IsZero() {
				t.CreatedAt = now
			}
			if err := tx.Create(t).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrVersionConflict
		}
		return storeErr(err)
	}
	return nil
}

// CountConversations returns the number of stored conversations.
func CountConversations(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Conversation{}).Count(&total).Error
	if err != nil {
		return 0, storeErr(err)
	}
	return total, nil
}

// ListConversationsPage returns a page of conversations ordered by most
// recently updated first. Turn histories are not loaded.
func ListConversationsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Order("updated_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// mutableColumns lists the columns the optimistic UPDATE may change.
// Identity columns (id, thread_key, seq, created_at) are immutable once
// created. Selecting explicitly forces zero values (e.g. a cleared
// booking_failures) to be written too.
var mutableColumns = []string{
	"counterpart_name", "stage", "slots", "language",
	"booking_ref", "booking_failures",
	"last_processed_message_id", "version", "updated_at",
}

// storeErr wraps unexpected driver errors as transient store failures.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
