package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/pelusa-v/pelusa-chat/internal/auth"
	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"github.com/pelusa-v/pelusa-chat/internal/models"
	"github.com/pelusa-v/pelusa-chat/internal/store"
)

// ConnectHandler GET /api/ws
func (h *Handlers) ConnectHandler(conn *websocket.Conn) {
	user, _ := conn.Locals(identityKey).(auth.Identity)
	client := chat.NewClient(user, conn, h.SendBuffer)
	// conn is recycled once this returns; Serve waits for the writer.
	h.Router.Serve(context.Background(), client)
}

// ShowClientsHandler GET /api/clients?exclude=idOrUsername
func (h *Handlers) ShowClientsHandler(c *fiber.Ctx) error {
	return c.JSON(h.Manager.OnlineUsers(c.Query("exclude")))
}

type createChatRequest struct {
	Type         models.ChatType  `json:"type"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Participants []string         `json:"participants"`
	Settings     *models.Settings `json:"settings"`
}

// CreateChatHandler POST /api/chats
func (h *Handlers) CreateChatHandler(c *fiber.Ctx) error {
	var req createChatRequest
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	ch, err := h.Store.CreateChat(c.UserContext(), identity(c).ID, store.NewChat{
		Type:         req.Type,
		Name:         req.Name,
		Description:  req.Description,
		Participants: req.Participants,
		Settings:     req.Settings,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ch)
}

// GetChatHandler GET /api/chats/:id
func (h *Handlers) GetChatHandler(c *fiber.Ctx) error {
	ch, err := h.requireParticipant(c, c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ch)
}

// UpdateChatHandler PUT /api/chats/:id
func (h *Handlers) UpdateChatHandler(c *fiber.Ctx) error {
	var patch store.ChatPatch
	if err := parseBody(c, &patch); err != nil {
		return h.fail(c, err)
	}
	ch, err := h.Store.UpdateChat(c.UserContext(), c.Params("id"), identity(c).ID, patch)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ch)
}

type participantRequest struct {
	UserID string      `json:"userId"`
	Role   models.Role `json:"role"`
}

// AddParticipantHandler POST /api/chats/:id/participants
func (h *Handlers) AddParticipantHandler(c *fiber.Ctx) error {
	var req participantRequest
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return h.fail(c, errBadRequest)
	}
	ch, err := h.Store.AddParticipant(c.UserContext(), c.Params("id"), identity(c).ID, strings.TrimSpace(req.UserID), req.Role)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ch)
}

// RemoveParticipantHandler DELETE /api/chats/:id/participants/:userId
func (h *Handlers) RemoveParticipantHandler(c *fiber.Ctx) error {
	ch, err := h.Store.RemoveParticipant(c.UserContext(), c.Params("id"), identity(c).ID, c.Params("userId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ch)
}

// SetRoleHandler PUT /api/chats/:id/participants/:userId/role
func (h *Handlers) SetRoleHandler(c *fiber.Ctx) error {
	var req participantRequest
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	ch, err := h.Store.SetRole(c.UserContext(), c.Params("id"), identity(c).ID, c.Params("userId"), req.Role)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ch)
}

// UpdateLastReadHandler POST /api/chats/:id/read
func (h *Handlers) UpdateLastReadHandler(c *fiber.Ctx) error {
	if err := h.Store.UpdateLastRead(c.UserContext(), c.Params("id"), identity(c).ID); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
