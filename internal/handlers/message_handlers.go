package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/pelusa-chat/internal/models"
	"github.com/pelusa-v/pelusa-chat/internal/store"
)

type sendMessageRequest struct {
	Content     string              `json:"content"`
	Type        models.MessageType  `json:"type"`
	ReplyTo     string              `json:"replyTo"`
	Attachments []models.Attachment `json:"attachments"`
}

// SendMessageHandler POST /api/chats/:id/messages
func (h *Handlers) SendMessageHandler(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return h.fail(c, errBadRequest)
	}
	m, err := h.Store.SendMessage(c.UserContext(), c.Params("id"), identity(c).ID, store.NewMessage{
		Content:     req.Content,
		Type:        req.Type,
		ReplyTo:     req.ReplyTo,
		Attachments: req.Attachments,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

// GetMessageHandler GET /api/chats/:id/messages/:messageId
func (h *Handlers) GetMessageHandler(c *fiber.Ctx) error {
	if _, err := h.requireParticipant(c, c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	m, err := h.Store.GetMessage(c.UserContext(), c.Params("id"), c.Params("messageId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(m)
}

// EditMessageHandler PUT /api/chats/:id/messages/:messageId
func (h *Handlers) EditMessageHandler(c *fiber.Ctx) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	if strings.TrimSpace(req.Content) == "" {
		return h.fail(c, errBadRequest)
	}
	m, err := h.Store.EditMessage(c.UserContext(), c.Params("id"), c.Params("messageId"), identity(c).ID, req.Content)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(m)
}

// DeleteMessageHandler DELETE /api/chats/:id/messages/:messageId
func (h *Handlers) DeleteMessageHandler(c *fiber.Ctx) error {
	m, err := h.Store.SoftDelete(c.UserContext(), c.Params("id"), c.Params("messageId"), identity(c).ID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(m)
}

// AddReactionHandler POST /api/chats/:id/messages/:messageId/reactions
func (h *Handlers) AddReactionHandler(c *fiber.Ctx) error {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" {
		return h.fail(c, errBadRequest)
	}
	m, err := h.Store.AddReaction(c.UserContext(), c.Params("id"), c.Params("messageId"), identity(c).ID, emoji)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(m)
}

// RemoveReactionHandler DELETE /api/chats/:id/messages/:messageId/reactions
func (h *Handlers) RemoveReactionHandler(c *fiber.Ctx) error {
	m, err := h.Store.RemoveReaction(c.UserContext(), c.Params("id"), c.Params("messageId"), identity(c).ID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(m)
}

// MarkReadHandler POST /api/chats/:id/messages/:messageId/read
func (h *Handlers) MarkReadHandler(c *fiber.Ctx) error {
	m, err := h.Store.MarkRead(c.UserContext(), c.Params("id"), c.Params("messageId"), identity(c).ID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(m)
}
