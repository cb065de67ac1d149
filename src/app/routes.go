package app

import (
	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/chatsync/src/bridge"
)

// statsReporter is implemented by bridges that count traffic.
type statsReporter interface {
	Stats() bridge.Stats
}

// RegisterRoutes registers the local status routes.
func (a *App) RegisterRoutes(group fiber.Router) {
	group.Get("/chat/info", a.handleInfo)
	group.Get("/chat/windows", a.handleWindows)
	group.Get("/chat/online", a.handleOnline)
}

func (a *App) handleInfo(c fiber.Ctx) error {
	a.mu.RLock()
	svc, b := a.service, a.bridge
	a.mu.RUnlock()

	if svc == nil {
		return c.JSON(fiber.Map{"active": false})
	}

	info := fiber.Map{
		"active":  true,
		"server":  a.cfg.ServerURL,
		"state":   svc.State().String(),
		"user":    svc.CurrentUser().ID,
		"topics":  svc.Registry().Topics(),
		"focused": svc.Main().Room(),
		"windows": len(svc.Windows().Windows()),
		"online":  len(svc.Presence().Online()),
		"bridge":  b != nil && b.Available(),
	}
	if sr, ok := b.(statsReporter); ok {
		info["bridge_stats"] = sr.Stats()
	}
	return c.JSON(info)
}

func (a *App) handleWindows(c fiber.Ctx) error {
	svc := a.Service()
	if svc == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": ErrNotActive.Error()})
	}
	return c.JSON(svc.Windows().Windows())
}

func (a *App) handleOnline(c fiber.Ctx) error {
	svc := a.Service()
	if svc == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": ErrNotActive.Error()})
	}
	return c.JSON(svc.Presence().Online())
}
