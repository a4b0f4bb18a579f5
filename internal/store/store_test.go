package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pelusa-v/pelusa-chat/internal/models"
)

func newTestStore(t *testing.T, users ...string) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	for _, id := range users {
		require.NoError(t, db.Create(&models.User{ID: id, Username: id, IsActive: true}).Error)
	}
	return New(db)
}

func TestCreatePrivateChatConflict(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	first, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"bob"}})
	require.NoError(t, err)
	require.Len(t, first.Participants, 2)
	owner, _ := first.Participant("alice")
	assert.Equal(t, models.RoleOwner, owner.Role)

	_, err = s.CreateChat(ctx, "bob", NewChat{Type: models.ChatPrivate, Participants: []string{"alice"}})
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.ChatID)

	var n int64
	require.NoError(t, s.db.Model(&models.Chat{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestCreatePrivateChatConcurrentDedup(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"bob"}})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		var conflict *ConflictError
		assert.True(t, errors.As(err, &conflict), "unexpected error %v", err)
	}
	assert.Equal(t, 1, created)
}

func TestCreateChatValidation(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	_, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatGroup, Participants: []string{"bob"}})
	assert.ErrorIs(t, err, ErrInvalidChat)

	_, err = s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate})
	assert.ErrorIs(t, err, ErrInvalidChat)

	_, err = s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"ghost"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroupMembership(t *testing.T) {
	s := newTestStore(t, "alice", "bob", "carol")
	ctx := context.Background()

	g, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatGroup, Name: "team"})
	require.NoError(t, err)

	_, err = s.AddParticipant(ctx, g.ID, "bob", "carol", models.RoleMember)
	assert.ErrorIs(t, err, ErrForbidden, "non-participant cannot add")

	c, err := s.AddParticipant(ctx, g.ID, "alice", "bob", "")
	require.NoError(t, err)
	assert.True(t, c.IsParticipant("bob"))

	c, err = s.AddParticipant(ctx, g.ID, "alice", "bob", models.RoleAdmin)
	require.NoError(t, err, "adding twice is a no-op")
	bob, _ := c.Participant("bob")
	assert.Equal(t, models.RoleMember, bob.Role)

	_, err = s.AddParticipant(ctx, g.ID, "bob", "carol", models.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden, "member cannot grant admin")

	_, err = s.SetRole(ctx, g.ID, "bob", "bob", models.RoleOwner)
	assert.ErrorIs(t, err, ErrForbidden)

	c, err = s.SetRole(ctx, g.ID, "alice", "bob", models.RoleAdmin)
	require.NoError(t, err)
	bob, _ = c.Participant("bob")
	assert.Equal(t, models.RoleAdmin, bob.Role)

	_, err = s.AddParticipant(ctx, g.ID, "bob", "carol", "")
	require.NoError(t, err)

	_, err = s.RemoveParticipant(ctx, g.ID, "carol", "bob")
	assert.ErrorIs(t, err, ErrForbidden, "member cannot remove others")

	c, err = s.RemoveParticipant(ctx, g.ID, "carol", "carol")
	require.NoError(t, err)
	assert.False(t, c.IsParticipant("carol"))

	_, err = s.RemoveParticipant(ctx, g.ID, "alice", "carol")
	require.NoError(t, err, "removing an absent participant is a no-op")

	stored, err := s.GetChat(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, stored.Participants, 2)
	assert.Equal(t, "alice", stored.Participants[0].UserID)
	assert.Equal(t, "bob", stored.Participants[1].UserID)
}

func TestEmptyGroupIsKept(t *testing.T) {
	s := newTestStore(t, "alice")
	ctx := context.Background()

	g, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatGroup, Name: "solo"})
	require.NoError(t, err)
	_, err = s.RemoveParticipant(ctx, g.ID, "alice", "alice")
	require.NoError(t, err)

	stored, err := s.GetChat(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Participants)
	assert.True(t, stored.IsActive)
}

func TestOwnerRoleIsProtected(t *testing.T) {
	s := newTestStore(t, "alice", "bob", "carol")
	ctx := context.Background()

	g, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatGroup, Name: "team", Participants: []string{"bob", "carol"}})
	require.NoError(t, err)
	_, err = s.SetRole(ctx, g.ID, "alice", "bob", models.RoleAdmin)
	require.NoError(t, err)

	_, err = s.SetRole(ctx, g.ID, "bob", "alice", models.RoleMember)
	assert.ErrorIs(t, err, ErrForbidden, "admin cannot demote the owner")

	_, err = s.SetRole(ctx, g.ID, "alice", "alice", models.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden, "last owner cannot step down")

	_, err = s.SetRole(ctx, g.ID, "alice", "carol", models.RoleOwner)
	require.NoError(t, err)
	_, err = s.SetRole(ctx, g.ID, "bob", "carol", models.RoleMember)
	assert.ErrorIs(t, err, ErrForbidden)

	c, err := s.SetRole(ctx, g.ID, "carol", "alice", models.RoleAdmin)
	require.NoError(t, err, "an owner may demote another owner")
	alice, _ := c.Participant("alice")
	assert.Equal(t, models.RoleAdmin, alice.Role)
	assert.Equal(t, 1, c.CountRole(models.RoleOwner))

	stored, err := s.GetChat(ctx, g.ID)
	require.NoError(t, err)
	carol, _ := stored.Participant("carol")
	assert.Equal(t, models.RoleOwner, carol.Role)
}

func TestPrivateMembershipIsFixed(t *testing.T) {
	s := newTestStore(t, "alice", "bob", "carol")
	ctx := context.Background()

	p, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"bob"}})
	require.NoError(t, err)

	_, err = s.AddParticipant(ctx, p.ID, "alice", "carol", "")
	assert.ErrorIs(t, err, ErrPrivateChat)
	_, err = s.RemoveParticipant(ctx, p.ID, "alice", "bob")
	assert.ErrorIs(t, err, ErrPrivateChat)
}

func TestUpdateLastReadIgnoresStrangers(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()
	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	p, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"bob"}})
	require.NoError(t, err)

	s.now = func() time.Time { return later }
	require.NoError(t, s.UpdateLastRead(ctx, p.ID, "bob"))
	require.NoError(t, s.UpdateLastRead(ctx, p.ID, "mallory"))

	stored, err := s.GetChat(ctx, p.ID)
	require.NoError(t, err)
	bob, _ := stored.Participant("bob")
	assert.True(t, bob.LastReadAt.Equal(later))
	assert.Len(t, stored.Participants, 2)
}

func TestUpdateChatSettings(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	g, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatGroup, Name: "team", Participants: []string{"bob"}})
	require.NoError(t, err)

	off := false
	_, err = s.UpdateChat(ctx, g.ID, "bob", ChatPatch{Settings: SettingsPatch{AllowVideoCalls: &off}})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = s.UpdateChat(ctx, g.ID, "alice", ChatPatch{Settings: SettingsPatch{AllowVideoCalls: &off}})
	require.NoError(t, err)

	stored, err := s.GetChat(ctx, g.ID)
	require.NoError(t, err)
	assert.False(t, stored.Settings.AllowVideoCalls)
	assert.True(t, stored.Settings.AllowVoiceCalls)
}

func TestSendMessageMovesLastActivity(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"bob"}})
	require.NoError(t, err)

	sent := time.Date(2031, 5, 5, 5, 5, 5, 0, time.UTC)
	s.now = func() time.Time { return sent }
	m, err := s.SendMessage(ctx, p.ID, "bob", NewMessage{Content: " hi "})
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Content)
	assert.Equal(t, models.MessageText, m.Type)

	stored, err := s.GetChat(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessageID)
	assert.Equal(t, m.ID, *stored.LastMessageID)
	assert.True(t, stored.LastActivity.Equal(sent))

	_, err = s.SendMessage(ctx, p.ID, "mallory", NewMessage{Content: "x"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestReplyLinkAcrossChatsIsDropped(t *testing.T) {
	s := newTestStore(t, "alice", "bob", "carol")
	ctx := context.Background()

	ab, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"bob"}})
	require.NoError(t, err)
	ac, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"carol"}})
	require.NoError(t, err)

	other, err := s.SendMessage(ctx, ac.ID, "alice", NewMessage{Content: "elsewhere"})
	require.NoError(t, err)
	local, err := s.SendMessage(ctx, ab.ID, "alice", NewMessage{Content: "here"})
	require.NoError(t, err)

	m, err := s.SendMessage(ctx, ab.ID, "bob", NewMessage{Content: "re", ReplyTo: other.ID})
	require.NoError(t, err)
	assert.Nil(t, m.ReplyTo)

	m, err = s.SendMessage(ctx, ab.ID, "bob", NewMessage{Content: "re", ReplyTo: "missing"})
	require.NoError(t, err)
	assert.Nil(t, m.ReplyTo)

	m, err = s.SendMessage(ctx, ab.ID, "bob", NewMessage{Content: "re", ReplyTo: local.ID})
	require.NoError(t, err)
	require.NotNil(t, m.ReplyTo)
	assert.Equal(t, local.ID, *m.ReplyTo)
}

func TestAttachmentsRespectFileSharing(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	noFiles := models.DefaultSettings()
	noFiles.AllowFileSharing = false
	g, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatGroup, Name: "t", Participants: []string{"bob"}, Settings: &noFiles})
	require.NoError(t, err)

	att := []models.Attachment{{URL: "https://cdn/a.mp4", StorageID: "a", FileName: "a.mp4", Size: 10, MimeType: "video/mp4"}}
	_, err = s.SendMessage(ctx, g.ID, "bob", NewMessage{Content: "a.mp4", Attachments: att})
	assert.ErrorIs(t, err, ErrFileSharingDisabled)

	p, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"bob"}})
	require.NoError(t, err)
	m, err := s.SendMessage(ctx, p.ID, "bob", NewMessage{Content: "a.mp4", Attachments: att})
	require.NoError(t, err)
	assert.Equal(t, models.MessageVideo, m.Type)

	stored, err := s.GetMessage(ctx, p.ID, m.ID)
	require.NoError(t, err)
	require.Len(t, stored.Attachments, 1)
	assert.Equal(t, "a", stored.Attachments[0].StorageID)
}

func TestReactionsAndReads(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"bob"}})
	require.NoError(t, err)
	m, err := s.SendMessage(ctx, p.ID, "alice", NewMessage{Content: "hey"})
	require.NoError(t, err)

	_, err = s.AddReaction(ctx, p.ID, m.ID, "bob", "👍")
	require.NoError(t, err)
	got, err := s.AddReaction(ctx, p.ID, m.ID, "bob", "🔥")
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "🔥", got.Reactions[0].Emoji)

	got, err = s.RemoveReaction(ctx, p.ID, m.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, got.Reactions)
	_, err = s.RemoveReaction(ctx, p.ID, m.ID, "bob")
	require.NoError(t, err)

	_, err = s.AddReaction(ctx, p.ID, m.ID, "mallory", "👀")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = s.MarkRead(ctx, p.ID, m.ID, "bob")
	require.NoError(t, err)
	got, err = s.MarkRead(ctx, p.ID, m.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, got.ReadBy, 1)
}

func TestSoftDeleteKeepsStoredContent(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"bob"}})
	require.NoError(t, err)
	m, err := s.SendMessage(ctx, p.ID, "alice", NewMessage{Content: "oops"})
	require.NoError(t, err)

	_, err = s.SoftDelete(ctx, p.ID, m.ID, "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	deleted, err := s.SoftDelete(ctx, p.ID, m.ID, "alice")
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, "oops", deleted.Content)
	require.NotNil(t, deleted.DeletedBy)
	assert.Equal(t, "alice", *deleted.DeletedBy)

	_, err = s.EditMessage(ctx, p.ID, m.ID, "alice", "fixed")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.AddReaction(ctx, p.ID, m.ID, "bob", "👍")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditMessage(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	p, err := s.CreateChat(ctx, "alice", NewChat{Type: models.ChatPrivate, Participants: []string{"bob"}})
	require.NoError(t, err)
	m, err := s.SendMessage(ctx, p.ID, "alice", NewMessage{Content: "helo"})
	require.NoError(t, err)

	_, err = s.EditMessage(ctx, p.ID, m.ID, "bob", "hello")
	assert.ErrorIs(t, err, ErrForbidden)

	edited, err := s.EditMessage(ctx, p.ID, m.ID, "alice", "hello")
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, "hello", edited.Content)
	assert.NotNil(t, edited.EditedAt)
}

func TestGetUsers(t *testing.T) {
	s := newTestStore(t, "alice", "bob")
	ctx := context.Background()

	users, err := s.GetUsers(ctx, []string{"alice", "ghost"})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Contains(t, users, "alice")

	_, err = s.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
