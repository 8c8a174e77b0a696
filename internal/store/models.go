package store

import "time"

// User is an account row.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Conversation is a chat session owned by one user.
type Conversation struct {
	ID              string    `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Title           string    `db:"title" json:"title"`
	DocumentsLoaded bool      `db:"documents_loaded" json:"documents_loaded"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Message is one turn in a conversation. Messages are append only.
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	Role           string    `db:"role" json:"role"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// UserDocument records an uploaded document's metadata. The content lives
// in the tenant's vector store.
type UserDocument struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	Filename       string    `db:"filename" json:"filename"`
	FileSize       int64     `db:"file_size" json:"file_size"`
	ChunkCount     int       `db:"chunk_count" json:"chunk_count"`
	UploadedAt     time.Time `db:"uploaded_at" json:"uploaded_at"`
}
