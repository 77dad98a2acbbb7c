package models

import "time"

// Note is the record held by the note store. The annotation engine only
// ever reads notes; content mutation belongs to the editor.
type Note struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"` // Markdown source
	NoteType  string    `json:"note_type" db:"note_type"`
	WordCount int       `json:"word_count" db:"word_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
