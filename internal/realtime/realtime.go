package realtime

import (
	"github.com/openteams/pulse/internal/dispatch"
	"github.com/openteams/pulse/internal/observability"
	"github.com/openteams/pulse/internal/presence"
	"github.com/openteams/pulse/internal/registry"
	"github.com/openteams/pulse/internal/router"
)

// Service provides realtime coordination over one hub.
type Service struct {
	hub       *Hub
	jwtSecret string
}

// Config holds realtime configuration.
type Config struct {
	JWTSecret string
	Dispatch  dispatch.Config
}

// NewService creates a realtime service around the given collaborators.
func NewService(reg *registry.Registry, rt *router.Router, pres *presence.Adapter,
	notifications NotificationStore, cfg Config) *Service {
	return &Service{
		hub:       NewHub(reg, rt, pres, notifications, cfg.Dispatch),
		jwtSecret: cfg.JWTSecret,
	}
}

// Hub returns the connection hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// SetMetrics attaches metric instruments to the hub.
func (s *Service) SetMetrics(m *observability.Metrics) {
	s.hub.SetMetrics(m)
}

// Stats returns realtime statistics.
func (s *Service) Stats() HubStats {
	return s.hub.Stats()
}

// NotifyEntityUpdated broadcasts an entity change to its workspace channel.
func (s *Service) NotifyEntityUpdated(workspaceID string, payload map[string]any) {
	s.hub.PublishEntityUpdated(workspaceID, payload)
}

// NotifyUser pushes a notification payload to the owning user's channel and
// returns the delivery report.
func (s *Service) NotifyUser(userID string, payload map[string]any) dispatch.DeliveryReport {
	return s.hub.PublishNotification(userID, payload)
}

// Close shuts the hub down.
func (s *Service) Close() {
	s.hub.Close()
}
