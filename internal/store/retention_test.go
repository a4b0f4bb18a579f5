package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/pelusa-chat/internal/models"
)

func TestExpireMessagesKeepsRows(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()
	day0 := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return day0 }

	weekly := models.DefaultSettings()
	weekly.MessageRetentionDays = 7
	g, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatGroup, Name: "weekly", Participants: []string{"bob"}, Settings: &weekly})
	require.NoError(t, err)
	forever, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatGroup, Name: "forever", Participants: []string{"bob"}})
	require.NoError(t, err)

	old, err := s.SendMessage(ctx, g.ID, "alice", NewMessage{Content: "one"})
	require.NoError(t, err)
	_, err = s.AddReaction(ctx, g.ID, old.ID, "bob", "👍")
	require.NoError(t, err)
	_, err = s.MarkRead(ctx, g.ID, old.ID, "bob")
	require.NoError(t, err)
	secret, err := s.SendMessage(ctx, g.ID, "bob", NewMessage{Content: "secret"})
	require.NoError(t, err)
	_, err = s.SoftDelete(ctx, g.ID, secret.ID, "bob")
	require.NoError(t, err)
	keep, err := s.SendMessage(ctx, forever.ID, "alice", NewMessage{Content: "kept"})
	require.NoError(t, err)

	s.now = func() time.Time { return day0.AddDate(0, 0, 10) }
	recent, err := s.SendMessage(ctx, g.ID, "bob", NewMessage{Content: "three", ReplyTo: old.ID})
	require.NoError(t, err)

	n, err := s.ExpireMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.ExpireMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already expired messages are not flagged again")

	got, err := s.GetMessage(ctx, g.ID, old.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiredAt)
	assert.Equal(t, "one", got.Content, "stored content is kept")
	assert.Len(t, got.Reactions, 1)
	assert.Len(t, got.ReadBy, 1)

	b, err := got.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), models.ExpiredPlaceholder)
	assert.NotContains(t, string(b), `"one"`)

	deleted, err := s.GetMessage(ctx, g.ID, secret.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", deleted.Content, "soft-deleted audit copy survives")
	assert.True(t, deleted.IsDeleted)

	got, err = s.GetMessage(ctx, g.ID, recent.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExpiredAt)
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, old.ID, *got.ReplyTo)

	got, err = s.GetMessage(ctx, forever.ID, keep.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExpiredAt)

	_, err = s.EditMessage(ctx, g.ID, old.ID, "alice", "rewrite")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.AddReaction(ctx, g.ID, old.ID, "alice", "🔥")
	assert.ErrorIs(t, err, ErrNotFound)
}
