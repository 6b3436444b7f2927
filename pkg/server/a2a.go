package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/repository"
)

type registerAgentRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Endpoint    string   `json:"endpoint"`
	Tags        []string `json:"tags"`
}

type createMessageRequest struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleListAgents(c *fiber.Ctx) error {
	agents, err := s.hub.ListAgents(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"agents": agents, "count": len(agents)})
}

func (s *Server) handleGetAgent(c *fiber.Ctx) error {
	agent, err := s.hub.GetAgent(c.UserContext(), model.AgentID(c.Params("id")))
	if err != nil {
		if errors.Is(err, repository.ErrAgentNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "Agent not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(agent)
}

func (s *Server) handleRegisterAgent(c *fiber.Ctx) error {
	var req registerAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name is required")
	}

	agent, err := s.hub.RegisterAgent(c.UserContext(), &model.Agent{
		ID:          model.AgentID(req.ID),
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
		Endpoint:    req.Endpoint,
		Tags:        req.Tags,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(agent)
}

func (s *Server) handleListMessages(c *fiber.Ctx) error {
	messages, err := s.hub.ListMessages(c.UserContext(), model.AgentID(c.Params("id")))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if messages == nil {
		messages = []*model.Message{}
	}
	return c.JSON(fiber.Map{"messages": messages, "count": len(messages)})
}

func (s *Server) handleCreateMessage(c *fiber.Ctx) error {
	var req createMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.To == "" {
		return fiber.NewError(fiber.StatusBadRequest, "to is required")
	}

	msg, err := s.hub.AddMessage(c.UserContext(), &model.Message{
		From:     model.AgentID(req.From),
		To:       model.AgentID(req.To),
		Type:     req.Type,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}
