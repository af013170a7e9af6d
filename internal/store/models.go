package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a user or chat thread does not exist.
var ErrNotFound = errors.New("not found")

// DuplicateFieldError reports which unique user field collided with an existing record.
type DuplicateFieldError struct {
	Field string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("%s already exists", e.Field)
}

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

type User struct {
	UserID    string `json:"userId" firestore:"userId"`
	Username  string `json:"username" firestore:"username"`
	Email     string `json:"email" firestore:"email"`
	FirstName string `json:"firstName,omitempty" firestore:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty" firestore:"lastName,omitempty"`
}

// Message is one entry of a thread. Entries are never edited once appended.
type Message struct {
	Text      string    `json:"text" firestore:"text"`
	Sender    Sender    `json:"sender" firestore:"sender"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

type Thread struct {
	ChatID      string    `json:"chatId" firestore:"chatId"`
	UserID      string    `json:"userId" firestore:"userId"`
	Messages    []Message `json:"messages" firestore:"messages"`
	LastUpdated time.Time `json:"lastUpdated" firestore:"lastUpdated"`
	// Version counts successful appends.
	Version int64 `json:"version" firestore:"version"`
}
