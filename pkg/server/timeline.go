package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/repository"
	"github.com/myxstack/xmcp/pkg/utils/logging"
)

type createItemRequest struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Status   string         `json:"status"`
	PostedBy string         `json:"posted_by"`
	Actions  []string       `json:"actions"`
	Metadata map[string]any `json:"metadata"`
}

type patchItemRequest struct {
	Status   *string        `json:"status"`
	Action   *string        `json:"action"`
	PostedBy *string        `json:"posted_by"`
	Title    *string        `json:"title"`
	Body     *string        `json:"body"`
	Actions  []string       `json:"actions"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleListItems(c *fiber.Ctx) error {
	items, err := s.timeline.ListItems(c.UserContext(), c.Params("user_id"), c.Query("status"))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*model.TimelineItem{}
	}
	return c.JSON(fiber.Map{"items": items, "count": len(items)})
}

func (s *Server) handleGetItem(c *fiber.Ctx) error {
	item, err := s.timeline.GetItem(c.UserContext(), model.ItemID(c.Params("id")))
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Item not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(item)
}

func (s *Server) handleCreateItem(c *fiber.Ctx) error {
	var req createItemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Title == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}

	item, err := s.timeline.AddItem(c.UserContext(), &model.TimelineItem{
		UserID:   req.UserID,
		Title:    req.Title,
		Body:     req.Body,
		Status:   req.Status,
		PostedBy: req.PostedBy,
		Actions:  req.Actions,
		Metadata: req.Metadata,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}

func (s *Server) handlePatchItem(c *fiber.Ctx) error {
	var req patchItemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	update := &model.ItemUpdate{
		Status:   req.Status,
		PostedBy: req.PostedBy,
		Title:    req.Title,
		Body:     req.Body,
		Actions:  req.Actions,
		Metadata: req.Metadata,
	}
	// An action with no explicit status lowers into the status field.
	if req.Action != nil && *req.Action != "" && req.Status == nil {
		lowered := strings.ToLower(*req.Action)
		update.Status = &lowered
	}

	item, err := s.timeline.UpdateItem(c.UserContext(), model.ItemID(c.Params("id")), update)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Item not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	if req.Action != nil && *req.Action != "" {
		s.dispatchAction(c, item, *req.Action)
	}
	return c.JSON(item)
}

// dispatchAction emits the side-channel message that tells the action agent
// a user acted on a timeline item. Failure is logged, not surfaced: the
// patch itself already succeeded.
func (s *Server) dispatchAction(c *fiber.Ctx, item *model.TimelineItem, action string) {
	_, err := s.hub.AddMessage(c.UserContext(), &model.Message{
		From:    model.AgentTimelineUI,
		To:      s.actionAgent,
		Type:    model.MessageTypeTimelineAction,
		Content: fmt.Sprintf("%s on %s", action, item.Title),
		Metadata: map[string]any{
			model.MetaTimelineItemID: string(item.ID),
			model.MetaAction:         action,
			"status":                 item.Status,
		},
	})
	if err != nil {
		logging.From(c.UserContext()).Error("failed to dispatch action message",
			"item_id", item.ID, "action", action, "error", err)
	}
}

func (s *Server) handleDeleteItem(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.timeline.DeleteItem(c.UserContext(), model.ItemID(id)); err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Item not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"deleted": true, "id": id})
}
