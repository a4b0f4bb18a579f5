package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pelusa-v/pelusa-chat/internal/auth"
	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"github.com/pelusa-v/pelusa-chat/internal/models"
	"github.com/pelusa-v/pelusa-chat/internal/presence"
	"github.com/pelusa-v/pelusa-chat/internal/store"
)

const identityKey = "identity"

var errBadRequest = errors.New("bad request")

type Authenticator interface {
	Resolve(ctx context.Context, token string) (auth.Identity, error)
}

type Deps struct {
	Store      *store.Store
	Auth       Authenticator
	Manager    *chat.Manager
	Router     *chat.Router
	Calls      *chat.CallRelay
	Presence   presence.Store
	Log        *zap.Logger
	SendBuffer int
}

type Handlers struct {
	Deps
}

func New(d Deps) *Handlers {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Handlers{Deps: d}
}

// Routes mounts the websocket endpoint and the REST API under /api.
func (h *Handlers) Routes(app *fiber.App) {
	api := app.Group("/api", h.Authenticate)

	api.Get("/ws", h.RequireUpgrade, websocket.New(h.ConnectHandler))
	api.Get("/clients", h.ShowClientsHandler) // ?exclude=idOrUsername

	video := api.Group("/video")
	video.Post("/call", h.InitiateCallHandler)
	video.Post("/end", h.EndCallHandler)
	video.Get("/permissions/:chatId", h.CallPermissionsHandler)
	video.Put("/settings/:chatId", h.CallSettingsHandler)
	video.Get("/availability/:userId", h.AvailabilityHandler)

	chats := api.Group("/chats")
	chats.Post("/", h.CreateChatHandler)
	chats.Get("/:id", h.GetChatHandler)
	chats.Put("/:id", h.UpdateChatHandler)
	chats.Post("/:id/participants", h.AddParticipantHandler)
	chats.Delete("/:id/participants/:userId", h.RemoveParticipantHandler)
	chats.Put("/:id/participants/:userId/role", h.SetRoleHandler)
	chats.Post("/:id/read", h.UpdateLastReadHandler)

	msgs := chats.Group("/:id/messages")
	msgs.Post("/", h.SendMessageHandler)
	msgs.Get("/:messageId", h.GetMessageHandler)
	msgs.Put("/:messageId", h.EditMessageHandler)
	msgs.Delete("/:messageId", h.DeleteMessageHandler)
	msgs.Post("/:messageId/reactions", h.AddReactionHandler)
	msgs.Delete("/:messageId/reactions", h.RemoveReactionHandler)
	msgs.Post("/:messageId/read", h.MarkReadHandler)
}

// Authenticate resolves the bearer token from the Authorization header or the
// token query parameter. Browsers cannot set headers on a websocket upgrade.
func (h *Handlers) Authenticate(c *fiber.Ctx) error {
	token := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		token = c.Query("token")
	}
	id, err := h.Auth.Resolve(c.UserContext(), token)
	if err != nil {
		h.Log.Debug("auth_failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication error"})
	}
	c.Locals(identityKey, id)
	return c.Next()
}

func (h *Handlers) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func identity(c *fiber.Ctx) auth.Identity {
	id, _ := c.Locals(identityKey).(auth.Identity)
	return id
}

func (h *Handlers) fail(c *fiber.Ctx, err error) error {
	var conflict *store.ConflictError
	var refusal *chat.CallRefusal
	switch {
	case errors.As(err, &conflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "chatId": conflict.ChatID})
	case errors.As(err, &refusal):
		code := fiber.StatusBadRequest
		switch refusal.Reason {
		case chat.RefuseNotFound:
			code = fiber.StatusNotFound
		case chat.RefuseNotParticipant, chat.RefuseTypeDisabled:
			code = fiber.StatusForbidden
		}
		return c.Status(code).JSON(fiber.Map{"error": string(refusal.Reason), "message": refusal.Message})
	case errors.Is(err, auth.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "authentication error"})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, chat.ErrCallNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, store.ErrForbidden), errors.Is(err, chat.ErrNotCallParty), errors.Is(err, models.ErrNotSender):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden"})
	case errors.Is(err, store.ErrPrivateChat), errors.Is(err, store.ErrFileSharingDisabled):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, store.ErrInvalidRole), errors.Is(err, store.ErrInvalidChat), errors.Is(err, errBadRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	h.Log.Error("request_failed", zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

// requireParticipant refuses users outside chatID with 403, or 404 for unknown chats.
func (h *Handlers) requireParticipant(c *fiber.Ctx, chatID string) (*models.Chat, error) {
	ch, err := h.Store.GetChat(c.UserContext(), chatID)
	if err != nil {
		return nil, err
	}
	if !ch.IsParticipant(identity(c).ID) {
		return nil, store.ErrForbidden
	}
	return ch, nil
}

func parseBody(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return errBadRequest
	}
	return nil
}
