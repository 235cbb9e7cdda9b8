package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/threadline-backend/internal/data/repos"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
)

type Repos struct {
	Chat repos.ChatRepos
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{Chat: repos.NewChatRepos(db, log)}
}
