// handlers/phase_routes.go
package handlers

import (
	"context"
	"fmt"

	"fantasy-match-engine/middleware"
	"fantasy-match-engine/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PhaseRunner runs the match pipeline phases. *services.MatchOrchestrator implements it.
type PhaseRunner interface {
	Create(ctx context.Context) (services.CreateSummary, error)
	Resolve(ctx context.Context) (services.ResolveSummary, error)
	Reconcile(ctx context.Context) (services.ReconcileSummary, error)
	Clear(ctx context.Context, reason string) (services.ClearSummary, error)
}

// RouteOptions controls which routes are exposed and how they are guarded.
type RouteOptions struct {
	// EnableAdmin registers the manual phase triggers. Off in production.
	EnableAdmin  bool
	GatewayToken string
	Logger       *zap.Logger
}

type clearRequest struct {
	Confirm bool   `json:"confirm"`
	Reason  string `json:"reason"`
}

func SetupPhaseRoutes(app *fiber.App, runner PhaseRunner, opts RouteOptions) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	if !opts.EnableAdmin {
		logger.Info("manual phase triggers disabled")
		return
	}

	// 🔐 Operator routes: gateway token plus the admin role forwarded by the gateway.
	admin := app.Group("/admin/phases",
		middleware.GatewayAuthMiddleware(opts.GatewayToken, logger),
		middleware.RequireRole("admin", logger),
	)

	admin.Post("/create", func(c *fiber.Ctx) error {
		summary, err := runner.Create(c.UserContext())
		if err != nil {
			return phaseError(c, logger, services.PhaseCreate, err)
		}
		return c.JSON(summary)
	})

	admin.Post("/resolve", func(c *fiber.Ctx) error {
		summary, err := runner.Resolve(c.UserContext())
		if err != nil {
			return phaseError(c, logger, services.PhaseResolve, err)
		}
		return c.JSON(summary)
	})

	admin.Post("/reconcile", func(c *fiber.Ctx) error {
		summary, err := runner.Reconcile(c.UserContext())
		if err != nil {
			return phaseError(c, logger, services.PhaseReconcile, err)
		}
		return c.JSON(summary)
	})

	admin.Post("/clear", func(c *fiber.Ctx) error {
		var req clearRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if !req.Confirm {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "clear deletes all pending matches and history; send \"confirm\": true",
			})
		}
		reason := req.Reason
		if reason == "" {
			reason = fmt.Sprintf("manual clear by %v", c.Locals("user_id"))
		}

		summary, err := runner.Clear(c.UserContext(), reason)
		if err != nil {
			return phaseError(c, logger, services.PhaseClear, err)
		}
		return c.JSON(summary)
	})
}

func phaseError(c *fiber.Ctx, logger *zap.Logger, phase string, err error) error {
	status := fiber.StatusInternalServerError
	if services.IsConfigError(err) {
		status = fiber.StatusServiceUnavailable
	}
	logger.Error("phase trigger failed", zap.String("phase", phase), zap.Error(err))
	return c.Status(status).JSON(fiber.Map{
		"error": fmt.Sprintf("%s phase failed", phase),
		"cause": err.Error(),
	})
}
