package model

import "time"

// Post is a single post in the external feed.
type Post struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Mention is a post that tagged the monitored account. ConversationID is the
// correlation key for thread context; a mention without one cannot be
// processed and is skipped.
type Mention = Post
