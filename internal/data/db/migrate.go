package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/threadline-backend/internal/domain/chat"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&chat.ChatThread{},
		&chat.ChatMessage{},
		&chat.ChatVote{},
	); err != nil {
		return err
	}
	return EnsureChatIndexes(db)
}

func EnsureChatIndexes(db *gorm.DB) error {
	// Conversation order read path.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chat_message_thread_order
		ON chat_message (thread_id, created_at, seq);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_message_thread_order: %w", err)
	}

	// Fast thread listing per user.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chat_thread_user_last
		ON chat_thread (user_id, last_message_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_thread_user_last: %w", err)
	}

	// Cursor paging over a user's threads.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chat_thread_user_created
		ON chat_thread (user_id, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_thread_user_created: %w", err)
	}

	return nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...", "driver", s.driver)
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	return nil
}
