package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat-go/internal/model"
)

func TestConversationLifecycle(t *testing.T) {
	repo := newMemConversations()
	svc := NewConversationService(repo, "")
	ctx := context.Background()

	conv, err := svc.Start(ctx, "u1", "What is your refund policy?")
	require.NoError(t, err)
	assert.Equal(t, "New Chat", conv.Title)
	assert.Equal(t, "u1", conv.UserID)

	_, err = svc.Continue(ctx, "u1", conv.ID, "And exchanges?")
	require.NoError(t, err)

	detail, err := svc.Get(ctx, "u1", conv.ID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, model.SenderUser, detail.Messages[0].Sender)
	assert.Equal(t, "And exchanges?", detail.Messages[1].Content)

	renamed, err := svc.Rename(ctx, "u1", conv.ID, "  Refunds  ")
	require.NoError(t, err)
	assert.Equal(t, "Refunds", renamed.Title)

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Refunds", list[0].Title)

	require.NoError(t, svc.Delete(ctx, "u1", conv.ID))
	_, err = svc.Get(ctx, "u1", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, repo.messages)
}

func TestConversationAccessRules(t *testing.T) {
	repo := newMemConversations()
	svc := NewConversationService(repo, "New Chat")
	ctx := context.Background()

	conv, err := svc.Start(ctx, "owner", "hello")
	require.NoError(t, err)

	_, err = svc.Continue(ctx, "intruder", conv.ID, "hi")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, "intruder", conv.ID), ErrForbidden)

	_, err = svc.Continue(ctx, "owner", "not-a-uuid", "hi")
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Continue(ctx, "owner", uuid.NewString(), "hi")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Continue(ctx, "owner", conv.ID, "   ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Rename(ctx, "owner", conv.ID, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Start(ctx, "owner", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAdminQueries(t *testing.T) {
	users := newMemUsers()
	convs := newMemConversations()
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &model.User{ID: "u1", Email: "a@example.com", Name: "A", Role: model.RoleUser}))
	require.NoError(t, users.Create(ctx, &model.User{ID: "u2", Email: "b@example.com", Name: "B", Role: model.RoleAdmin}))

	chat := NewConversationService(convs, "New Chat")
	conv, err := chat.Start(ctx, "u1", "first")
	require.NoError(t, err)
	_, err = convs.AppendMessage(ctx, conv.ID, model.SenderAssistant, "reply")
	require.NoError(t, err)

	admin := NewAdminService(users, convs)

	page, err := admin.ListUsers(ctx, 1, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Content, 1)
	assert.Equal(t, "u1", page.Content[0].ID)
	assert.EqualValues(t, 1, page.Content[0].ConversationCount)
	assert.EqualValues(t, 2, page.Content[0].MessageCount)

	stats, err := admin.UserConversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.EqualValues(t, 2, stats[0].MessageCount)

	_, err = admin.UserConversations(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	detail, err := admin.ConversationMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Messages, 2)
}
