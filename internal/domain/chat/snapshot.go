package chat

import "github.com/google/uuid"

// ThreadSnapshot is the full, ordered view handed to UI consumers after every
// mutation. Revision is anchored to the wall clock in microseconds and grows
// monotonically per thread, also across cache reloads, so a client can drop
// snapshots that arrive out of order.
type ThreadSnapshot struct {
	ThreadID uuid.UUID     `json:"thread_id"`
	UserID   uuid.UUID     `json:"user_id"`
	Revision int64         `json:"revision"`
	Messages []ChatMessage `json:"messages"`
	Votes    []ChatVote    `json:"votes"`
}

// VoteFor returns the vote on messageID, if any.
func (s ThreadSnapshot) VoteFor(messageID uuid.UUID) (ChatVote, bool) {
	for _, v := range s.Votes {
		if v.MessageID == messageID {
			return v, true
		}
	}
	return ChatVote{}, false
}
