package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/threadline-backend/internal/data/repos/chat"
	"github.com/yungbote/threadline-backend/internal/platform/logger"
)

type ChatThreadRepo = chat.ChatThreadRepo
type ChatMessageRepo = chat.ChatMessageRepo
type ChatVoteRepo = chat.ChatVoteRepo
type ThreadListQuery = chat.ThreadListQuery

// ChatRepos groups the conversation table repos.
type ChatRepos struct {
	Threads  ChatThreadRepo
	Messages ChatMessageRepo
	Votes    ChatVoteRepo
}

func NewChatRepos(db *gorm.DB, log *logger.Logger) ChatRepos {
	return ChatRepos{
		Threads:  chat.NewChatThreadRepo(db, log),
		Messages: chat.NewChatMessageRepo(db, log),
		Votes:    chat.NewChatVoteRepo(db, log),
	}
}
