package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	usersCollection = "users"
	chatsCollection = "chats"

	// ListThreads filters on chatOwnerField and sorts on chatUpdatedField, which needs the composite
	// index declared in firestore.indexes.json.
	chatOwnerField   = "userId"
	chatUpdatedField = "lastUpdated"
)

// FirestoreStore keeps users and threads as documents keyed by userId and chatId.
// Thread messages are an embedded array.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) CreateUser(ctx context.Context, user *User) error {
	users := s.client.Collection(usersCollection)
	ref := users.Doc(user.UserID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err == nil {
			return &DuplicateFieldError{Field: "userId"}
		} else if status.Code(err) != codes.NotFound {
			return fmt.Errorf("firestore: getting user document: %w", err)
		}
		for _, check := range []struct{ field, path, value string }{
			{"username", "username", user.Username},
			{"email", "email", user.Email},
		} {
			docs, err := tx.Documents(users.Where(check.path, "==", check.value).Limit(1)).GetAll()
			if err != nil {
				return fmt.Errorf("firestore: querying users by %s: %w", check.field, err)
			}
			if len(docs) > 0 {
				return &DuplicateFieldError{Field: check.field}
			}
		}
		return tx.Create(ref, user)
	})
	if err != nil {
		var dup *DuplicateFieldError
		if errors.As(err, &dup) {
			return dup
		}
		if status.Code(err) == codes.AlreadyExists {
			return &DuplicateFieldError{Field: "userId"}
		}
		return fmt.Errorf("firestore: creating user: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetUser(ctx context.Context, userID string) (*User, error) {
	doc, err := s.client.Collection(usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore: getting user document: %w", err)
	}
	var user User
	if err := doc.DataTo(&user); err != nil {
		return nil, fmt.Errorf("firestore: decoding user document: %w", err)
	}
	return &user, nil
}

func (s *FirestoreStore) UpdateUser(ctx context.Context, user *User) error {
	users := s.client.Collection(usersCollection)
	ref := users.Doc(user.UserID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return fmt.Errorf("firestore: getting user document: %w", err)
		}
		docs, err := tx.Documents(users.Where("username", "==", user.Username).Limit(1)).GetAll()
		if err != nil {
			return fmt.Errorf("firestore: querying users by username: %w", err)
		}
		if len(docs) > 0 && docs[0].Ref.ID != user.UserID {
			return &DuplicateFieldError{Field: "username"}
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "username", Value: user.Username},
			{Path: "firstName", Value: user.FirstName},
			{Path: "lastName", Value: user.LastName},
		})
	})
	if err != nil {
		var dup *DuplicateFieldError
		if errors.Is(err, ErrNotFound) || errors.As(err, &dup) {
			return err
		}
		return fmt.Errorf("firestore: updating user: %w", err)
	}
	return nil
}

func (s *FirestoreStore) CreateThread(ctx context.Context, thread *Thread) error {
	if thread.ChatID == "" {
		thread.ChatID = uuid.NewString()
	}
	if thread.Messages == nil {
		thread.Messages = []Message{}
	}
	if len(thread.Messages) > 0 {
		thread.Version = 1
	}
	if _, err := s.client.Collection(chatsCollection).Doc(thread.ChatID).Create(ctx, thread); err != nil {
		return fmt.Errorf("firestore: creating chat document: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetThread(ctx context.Context, chatID string) (*Thread, error) {
	doc, err := s.client.Collection(chatsCollection).Doc(chatID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("firestore: getting chat document: %w", err)
	}
	return decodeThread(doc)
}

func (s *FirestoreStore) ListThreads(ctx context.Context, userID string) ([]Thread, error) {
	docs, err := s.client.Collection(chatsCollection).
		Where(chatOwnerField, "==", userID).
		OrderBy(chatUpdatedField, firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: querying chats: %w", err)
	}
	threads := make([]Thread, 0, len(docs))
	for _, doc := range docs {
		thread, err := decodeThread(doc)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *thread)
	}
	return threads, nil
}

// AppendMessages extends the message array inside a transaction. Firestore retries the transaction
// when another writer commits first, so concurrent appends never overwrite each other, and identical
// messages are all kept.
func (s *FirestoreStore) AppendMessages(ctx context.Context, chatID string, lastUpdated time.Time, msgs ...Message) (int64, error) {
	ref := s.client.Collection(chatsCollection).Doc(chatID)
	var version int64
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return fmt.Errorf("firestore: getting chat document: %w", err)
		}
		thread, err := decodeThread(doc)
		if err != nil {
			return err
		}
		version = thread.Version + 1
		return tx.Update(ref, []firestore.Update{
			{Path: "messages", Value: append(thread.Messages, msgs...)},
			{Path: chatUpdatedField, Value: lastUpdated},
			{Path: "version", Value: version},
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("firestore: appending chat messages: %w", err)
	}
	return version, nil
}

func decodeThread(doc *firestore.DocumentSnapshot) (*Thread, error) {
	var thread Thread
	if err := doc.DataTo(&thread); err != nil {
		return nil, fmt.Errorf("firestore: decoding chat document: %w", err)
	}
	thread.ChatID = doc.Ref.ID
	thread.Messages = messagesOrEmpty(thread.Messages)
	return &thread, nil
}
