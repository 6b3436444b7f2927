package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/repository"
)

// Server is the HTTP surface over the timeline and agent-hub stores.
type Server struct {
	app         *fiber.App
	timeline    repository.Timeline
	hub         repository.Hub
	actionAgent model.AgentID
}

// Config holds the server dependencies. ActionAgent receives the
// side-channel message emitted when a timeline item is patched with an
// action.
type Config struct {
	Timeline    repository.Timeline
	Hub         repository.Hub
	ActionAgent model.AgentID
}

// New builds the server and registers all routes.
func New(cfg Config) *Server {
	actionAgent := cfg.ActionAgent
	if actionAgent == "" {
		actionAgent = model.AgentOrchestrator
	}

	s := &Server{
		app:         fiber.New(fiber.Config{DisableStartupMessage: true}),
		timeline:    cfg.Timeline,
		hub:         cfg.Hub,
		actionAgent: actionAgent,
	}

	s.app.Get("/health", s.handleHealth)

	v1 := s.app.Group("/v1")
	v1.Get("/timeline/users/:user_id/items", s.handleListItems)
	v1.Get("/timeline/items/:id", s.handleGetItem)
	v1.Post("/timeline/items", s.handleCreateItem)
	v1.Patch("/timeline/items/:id", s.handlePatchItem)
	v1.Delete("/timeline/items/:id", s.handleDeleteItem)

	v1.Get("/a2a/agents", s.handleListAgents)
	v1.Get("/a2a/agents/:id", s.handleGetAgent)
	v1.Post("/a2a/agents", s.handleRegisterAgent)
	v1.Get("/a2a/agents/:id/messages", s.handleListMessages)
	v1.Post("/a2a/messages", s.handleCreateMessage)

	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on the given address until the process terminates.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
