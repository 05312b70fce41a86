package contract

import "time"

type CreateConversationRequest struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"max=4000"`
}

type SendMessageResponse struct {
	MessageID    string `json:"messageId"`
	SummaryStale bool   `json:"summaryStale,omitempty"`
}

type ConversationEntry struct {
	Conversation Conversation `json:"conversation"`
	Counterpart  Profile      `json:"counterpart"`
	Unread       int          `json:"unread"`
}

type ProfileUpdateRequest struct {
	FirstName   string   `json:"firstName" validate:"required,max=80"`
	LastName    string   `json:"lastName" validate:"required,max=80"`
	Company     string   `json:"company" validate:"max=120"`
	Phone       string   `json:"phone" validate:"max=40"`
	Location    string   `json:"location" validate:"max=120"`
	About       string   `json:"about" validate:"max=4000"`
	Specialties []string `json:"specialties" validate:"max=30,dive,max=60"`
}

type PhotoResponse struct {
	PhotoURL string `json:"photoURL"`
}

type CreatePostRequest struct {
	Content string   `json:"content" validate:"max=8000"`
	Type    string   `json:"type" validate:"omitempty,oneof=general project-showcase certification"`
	Images  []string `json:"images" validate:"max=10,dive,url"`
}

type CommentRequest struct {
	Content string `json:"content" validate:"max=2000"`
}

type PostView struct {
	Post
	ContentHTML string  `json:"contentHtml"`
	Author      Profile `json:"author"`
	LikeCount   int     `json:"likeCount"`
	LikedByMe   bool    `json:"likedByMe"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// StreamEvent is the data payload of one SSE event.
type StreamEvent struct {
	Conversations  []ConversationEntry `json:"conversations,omitempty"`
	ConversationID string              `json:"conversationId,omitempty"`
	Messages       []Message           `json:"messages,omitempty"`
	Error          string              `json:"error,omitempty"`
	At             time.Time           `json:"at"`
}
