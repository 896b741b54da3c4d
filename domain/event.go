package domain

// Board event types delivered to the notification queue.
const (
	EventBoardCreated  = "board-created"
	EventBoardReplaced = "board-replaced"
	EventCardMoved     = "card-moved"
	EventMemberAdded   = "member-added"
	EventBoardDeleted  = "board-deleted"
)

// BoardEvent records a completed board mutation.
type BoardEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	BoardID   string `json:"boardId"`
	UserID    string `json:"userId"`
	Version   int64  `json:"version"`
	Timestamp int64  `json:"timestamp"`
}
