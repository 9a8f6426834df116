package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/arcadian-io/docchat/internal/history"
	"github.com/arcadian-io/docchat/internal/orchestrator"
	"github.com/arcadian-io/docchat/models"
)

// Converser handles one chat turn. Satisfied by the orchestrator.
type Converser interface {
	Orchestrate(ctx context.Context, history models.ChatHistory) (orchestrator.Response, error)
}

// ConversationStore persists chat turns. Satisfied by the history store.
type ConversationStore interface {
	Append(ctx context.Context, rec history.Record) (string, error)
	Conversation(ctx context.Context, userID, conversationID string) (models.ChatHistory, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	ListConversations(ctx context.Context, userID string) ([]string, error)
}

// ChatHandler serves the conversation endpoints.
type ChatHandler struct {
	Orch    Converser
	History ConversationStore
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/conversation", h.converse)
	g.GET("/conversations", h.listConversations)
	g.GET("/conversations/:id", h.getConversation)
	g.DELETE("/conversations/:id", h.deleteConversation)
}

// ChatRequest is the inbound turn: the full message history ending with the
// user's question. Ids are optional; when present the turn is persisted.
type ChatRequest struct {
	UserID         string               `json:"user_id"`
	ConversationID string               `json:"conversation_id"`
	Messages       []models.ChatMessage `json:"messages"`
}

func (h *ChatHandler) converse(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages required")
	}
	ctx := c.Request().Context()

	start := time.Now()
	resp, err := h.Orch.Orchestrate(ctx, models.ChatHistory(req.Messages))
	chatTurnDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		chatTurnsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, orchestrator.ErrNoUserMessage) || errors.Is(err, orchestrator.ErrUnknownStrategy) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	chatTurnsTotal.WithLabelValues("ok").Inc()

	if h.History != nil && req.UserID != "" {
		h.persistTurn(ctx, req, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// persistTurn stores the question and the assistant reply. Storage failures
// are logged by the store and never fail the turn that already succeeded.
func (h *ChatHandler) persistTurn(ctx context.Context, req ChatRequest, resp orchestrator.Response) {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	question := req.Messages[len(req.Messages)-1]
	_, _ = h.History.Append(ctx, history.Record{
		UserID:         req.UserID,
		ConversationID: conversationID,
		Role:           question.Role,
		Content:        question.Content,
	})
	for _, choice := range resp.Choices {
		for _, msg := range choice.Messages {
			if msg.Role != models.RoleAssistant {
				continue
			}
			_, _ = h.History.Append(ctx, history.Record{
				UserID:         req.UserID,
				ConversationID: conversationID,
				MessageID:      resp.ID,
				Role:           msg.Role,
				Content:        msg.Content,
			})
		}
	}
}

func (h *ChatHandler) listConversations(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id required")
	}
	ids, err := h.History.ListConversations(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": ids})
}

func (h *ChatHandler) getConversation(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id required")
	}
	turns, err := h.History.Conversation(c.Request().Context(), userID, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if turns == nil {
		turns = models.ChatHistory{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": turns})
}

func (h *ChatHandler) deleteConversation(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id required")
	}
	if err := h.History.DeleteConversation(c.Request().Context(), userID, c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}
