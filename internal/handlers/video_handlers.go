package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"github.com/pelusa-v/pelusa-chat/internal/store"
)

// InitiateCallHandler POST /api/video/call
func (h *Handlers) InitiateCallHandler(c *fiber.Ctx) error {
	var req struct {
		ChatID   string        `json:"chatId"`
		CallType chat.CallType `json:"callType"`
	}
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	if strings.TrimSpace(req.ChatID) == "" {
		return h.fail(c, errBadRequest)
	}
	session, err := h.Calls.Initiate(c.UserContext(), identity(c), strings.TrimSpace(req.ChatID), req.CallType)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(session)
}

// EndCallHandler POST /api/video/end
func (h *Handlers) EndCallHandler(c *fiber.Ctx) error {
	var req struct {
		CallID string `json:"callId"`
	}
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	if req.CallID == "" {
		return h.fail(c, errBadRequest)
	}
	call, err := h.Calls.EndByID(identity(c).ID, req.CallID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"callId": call.ID, "state": call.State})
}

// CallPermissionsHandler GET /api/video/permissions/:chatId
func (h *Handlers) CallPermissionsHandler(c *fiber.Ctx) error {
	ch, err := h.requireParticipant(c, c.Params("chatId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"chatId":        ch.ID,
		"canVideoCall":  ch.Settings.AllowVideoCalls,
		"canVoiceCall":  ch.Settings.AllowVoiceCalls,
		"canShareFiles": ch.Settings.AllowFileSharing,
	})
}

// CallSettingsHandler PUT /api/video/settings/:chatId
func (h *Handlers) CallSettingsHandler(c *fiber.Ctx) error {
	var req struct {
		AllowVideoCalls *bool `json:"allowVideoCalls"`
		AllowVoiceCalls *bool `json:"allowVoiceCalls"`
	}
	if err := parseBody(c, &req); err != nil {
		return h.fail(c, err)
	}
	ch, err := h.Store.UpdateChat(c.UserContext(), c.Params("chatId"), identity(c).ID, store.ChatPatch{
		Settings: store.SettingsPatch{AllowVideoCalls: req.AllowVideoCalls, AllowVoiceCalls: req.AllowVoiceCalls},
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(ch.Settings)
}

// AvailabilityHandler GET /api/video/availability/:userId
func (h *Handlers) AvailabilityHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if _, err := h.Store.GetUser(c.UserContext(), userID); err != nil {
		return h.fail(c, err)
	}
	status, err := h.Presence.Status(c.UserContext(), userID)
	if err != nil {
		h.Log.Warn("presence_lookup_failed", zap.String("user", userID), zap.Error(err))
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"userId":    userID,
		"status":    status,
		"available": status.Available(),
		"connected": h.Manager.Online(userID),
	})
}
