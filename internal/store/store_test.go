package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type backend interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, chatID string) (*Thread, error)
	ListThreads(ctx context.Context, userID string) ([]Thread, error)
	AppendMessages(ctx context.Context, chatID string, lastUpdated time.Time, msgs ...Message) (int64, error)
}

var (
	_ backend = (*SQLiteStore)(nil)
	_ backend = (*FirestoreStore)(nil)
)

func newTestUser(prefix string) *User {
	return &User{
		UserID:    prefix + "-id",
		Username:  prefix + "-name",
		Email:     prefix + "@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}
}

func exchange(text string, at time.Time) []Message {
	return []Message{
		{Text: text, Sender: SenderUser, Timestamp: at},
		{Text: "re: " + text, Sender: SenderBot, Timestamp: at},
	}
}

// runBackendSuite exercises the behaviour every store backend must share.
func runBackendSuite(t *testing.T, s backend) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("user roundtrip", func(t *testing.T) {
		user := newTestUser(uuid.NewString())
		require.NoError(t, s.CreateUser(ctx, user))

		got, err := s.GetUser(ctx, user.UserID)
		require.NoError(t, err)
		assert.Equal(t, user, got)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := s.GetUser(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate fields", func(t *testing.T) {
		original := newTestUser(uuid.NewString())
		require.NoError(t, s.CreateUser(ctx, original))

		cases := map[string]*User{
			"userId":   {UserID: original.UserID, Username: uuid.NewString(), Email: uuid.NewString()},
			"username": {UserID: uuid.NewString(), Username: original.Username, Email: uuid.NewString()},
			"email":    {UserID: uuid.NewString(), Username: uuid.NewString(), Email: original.Email},
		}
		for field, candidate := range cases {
			err := s.CreateUser(ctx, candidate)
			var dup *DuplicateFieldError
			require.ErrorAs(t, err, &dup, field)
			assert.Equal(t, field, dup.Field)
		}

		got, err := s.GetUser(ctx, original.UserID)
		require.NoError(t, err)
		assert.Equal(t, original, got)
	})

	t.Run("update user", func(t *testing.T) {
		user := newTestUser(uuid.NewString())
		other := newTestUser(uuid.NewString())
		require.NoError(t, s.CreateUser(ctx, user))
		require.NoError(t, s.CreateUser(ctx, other))

		taken := *user
		taken.Username = other.Username
		var dup *DuplicateFieldError
		require.ErrorAs(t, s.UpdateUser(ctx, &taken), &dup)
		assert.Equal(t, "username", dup.Field)

		renamed := *user
		renamed.Username = user.Username + "-renamed"
		renamed.FirstName = "Grace"
		require.NoError(t, s.UpdateUser(ctx, &renamed))

		got, err := s.GetUser(ctx, user.UserID)
		require.NoError(t, err)
		assert.Equal(t, renamed.Username, got.Username)
		assert.Equal(t, "Grace", got.FirstName)
		assert.Equal(t, user.Email, got.Email)

		missing := newTestUser(uuid.NewString())
		assert.ErrorIs(t, s.UpdateUser(ctx, missing), ErrNotFound)
	})

	t.Run("thread create and get", func(t *testing.T) {
		thread := &Thread{UserID: uuid.NewString(), Messages: exchange("hi", base), LastUpdated: base}
		require.NoError(t, s.CreateThread(ctx, thread))
		require.NotEmpty(t, thread.ChatID)

		got, err := s.GetThread(ctx, thread.ChatID)
		require.NoError(t, err)
		assert.Equal(t, thread.UserID, got.UserID)
		assert.Equal(t, int64(1), got.Version)
		assert.True(t, base.Equal(got.LastUpdated))
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "hi", got.Messages[0].Text)
		assert.Equal(t, SenderUser, got.Messages[0].Sender)
		assert.Equal(t, SenderBot, got.Messages[1].Sender)
	})

	t.Run("missing thread", func(t *testing.T) {
		_, err := s.GetThread(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.AppendMessages(ctx, uuid.NewString(), base, exchange("lost", base)...)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("append preserves order", func(t *testing.T) {
		thread := &Thread{UserID: uuid.NewString(), Messages: exchange("one", base), LastUpdated: base}
		require.NoError(t, s.CreateThread(ctx, thread))

		later := base.Add(time.Minute)
		version, err := s.AppendMessages(ctx, thread.ChatID, later, exchange("two", later)...)
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)

		got, err := s.GetThread(ctx, thread.ChatID)
		require.NoError(t, err)
		require.Len(t, got.Messages, 4)
		texts := make([]string, len(got.Messages))
		for i, m := range got.Messages {
			texts[i] = m.Text
		}
		assert.Equal(t, []string{"one", "re: one", "two", "re: two"}, texts)
		assert.True(t, later.Equal(got.LastUpdated))
	})

	t.Run("identical exchanges are all kept", func(t *testing.T) {
		thread := &Thread{UserID: uuid.NewString(), Messages: exchange("same", base), LastUpdated: base}
		require.NoError(t, s.CreateThread(ctx, thread))

		for want := int64(2); want <= 3; want++ {
			version, err := s.AppendMessages(ctx, thread.ChatID, base, exchange("same", base)...)
			require.NoError(t, err)
			assert.Equal(t, want, version)
		}

		got, err := s.GetThread(ctx, thread.ChatID)
		require.NoError(t, err)
		assert.Len(t, got.Messages, 6)
		assert.Equal(t, int64(3), got.Version)
	})

	t.Run("list orders by last update", func(t *testing.T) {
		userID := uuid.NewString()
		var ids []string
		for i := 0; i < 3; i++ {
			at := base.Add(time.Duration(i) * time.Hour)
			thread := &Thread{UserID: userID, Messages: exchange(fmt.Sprint(i), at), LastUpdated: at}
			require.NoError(t, s.CreateThread(ctx, thread))
			ids = append(ids, thread.ChatID)
		}
		require.NoError(t, s.CreateThread(ctx, &Thread{UserID: uuid.NewString(), LastUpdated: base}))

		threads, err := s.ListThreads(ctx, userID)
		require.NoError(t, err)
		require.Len(t, threads, 3)
		assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{threads[0].ChatID, threads[1].ChatID, threads[2].ChatID})
		assert.Len(t, threads[0].Messages, 2)

		bump := base.Add(24 * time.Hour)
		_, err = s.AppendMessages(ctx, ids[0], bump, exchange("again", bump)...)
		require.NoError(t, err)
		threads, err = s.ListThreads(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, ids[0], threads[0].ChatID)
		assert.Len(t, threads[0].Messages, 4)
	})

	t.Run("list for unknown user is empty", func(t *testing.T) {
		threads, err := s.ListThreads(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.NotNil(t, threads)
		assert.Empty(t, threads)
	})

	t.Run("concurrent appends all land", func(t *testing.T) {
		thread := &Thread{UserID: uuid.NewString(), LastUpdated: base}
		require.NoError(t, s.CreateThread(ctx, thread))

		const writers = 8
		var g errgroup.Group
		for i := 0; i < writers; i++ {
			i := i
			g.Go(func() error {
				at := base.Add(time.Duration(i) * time.Second)
				_, err := s.AppendMessages(ctx, thread.ChatID, at, exchange(fmt.Sprintf("w%d", i), at)...)
				return err
			})
		}
		require.NoError(t, g.Wait())

		got, err := s.GetThread(ctx, thread.ChatID)
		require.NoError(t, err)
		assert.Len(t, got.Messages, 2*writers)
		assert.Equal(t, int64(writers), got.Version)
		for i := 0; i < len(got.Messages); i += 2 {
			assert.Equal(t, SenderUser, got.Messages[i].Sender)
			assert.Equal(t, "re: "+got.Messages[i].Text, got.Messages[i+1].Text)
		}
	})
}
