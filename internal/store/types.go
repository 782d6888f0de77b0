package store

// Conversation state machine values. Transitions are driven by tool-call
// outcomes and first-contact detection, never by free-form model text.
const (
	StatusNewVisitor        = "new_visitor"
	StatusAwaitingAffiliate = "AWAITING_AFFILIATION_CONFIRM"
	StatusAffiliateLoggedIn = "AFFILIATE_LOGGED_IN"
	StatusValidationFailed  = "VALIDATION_FAILED"

	// Legacy value still present in old rows; treated as logged in.
	StatusIdentifiedAffiliate = "identified_affiliate"
)

// Outbound queue entry states. Successful delivery deletes the row, so
// there is no "done" value.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskFailed     = "failed"
)

// TaskTypePostulation marks queue entries whose delivery outcome must be
// reported back to the CRM.
const TaskTypePostulation = "postulation"

// Conversation is the durable per-chat record.
type Conversation struct {
	ChatID               string `json:"chat_id"`
	ContactName          string `json:"contact_name"`
	LastMessageTimestamp int64  `json:"last_message_timestamp"`
	BotActive            bool   `json:"bot_active"`
	Status               string `json:"status"`
	KnownIdentity        string `json:"known_identity,omitempty"`
	CustomName           string `json:"custom_name,omitempty"`
	ChatType             string `json:"chat_type"`
	IsPinned             bool   `json:"is_pinned"`
	UnreadCount          int    `json:"unread_count"`
	ContextCity          string `json:"context_city,omitempty"`
	ContextArea          string `json:"context_area,omitempty"`
}

// Message is an immutable append-only chat message record.
type Message struct {
	ID        int64  `json:"id"`
	ChatID    string `json:"chat_id"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	FromMe    bool   `json:"from_me"`
}

// Task is an outbound queue entry awaiting delivery.
type Task struct {
	ID           int64  `json:"id"`
	TaskType     string `json:"task_type"`
	RelatedID    int64  `json:"related_id"`
	ChatID       string `json:"chat_id"`
	MessageBody  string `json:"message_body"`
	ScheduledFor int64  `json:"scheduled_for"`
	Status       string `json:"status"`
}

// Tag labels conversations; many-to-many via conversation_tags.
type Tag struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Notification is raised when a conversation requires human attention.
type Notification struct {
	ID          int64  `json:"id"`
	ChatID      string `json:"chat_id"`
	ContactName string `json:"contact_name"`
	Type        string `json:"type"`
	Summary     string `json:"summary"`
	Timestamp   int64  `json:"timestamp"`
	IsRead      bool   `json:"is_read"`
}

// Affiliate is a CRM-side verified candidate used by the bulk sync.
type Affiliate struct {
	Identity string
	Phone    string
	Name     string
}
