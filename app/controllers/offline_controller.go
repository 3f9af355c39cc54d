package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/audit"
	"github.com/firmaentrega/backend/internal/pkg/confirm"
	"github.com/firmaentrega/backend/internal/pkg/offline"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
)

// maxOfflineBatchSize bounds one sync request.
const maxOfflineBatchSize = 100

var offlineReconciler *offline.Reconciler

// InitializeOfflineController wires the reconciler with the global
// repositories
func InitializeOfflineController() {
	repos := repository.GetGlobalRepositories()
	offlineReconciler = offline.NewReconciler(repos, audit.NewLogger(repos.Audit, "device"))
}

// HandleOfflineSync reconciles a batch of locally-captured events. Events
// are processed independently; the response carries one outcome per event.
func HandleOfflineSync(c *fiber.Ctx) error {
	var req struct {
		Events []offline.Event `json:"events"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, confirm.NewError(confirm.KindValidation, "invalid request body"))
	}
	if len(req.Events) == 0 {
		return respondError(c, confirm.NewError(confirm.KindValidation, "events must not be empty"))
	}
	if len(req.Events) > maxOfflineBatchSize {
		return respondError(c, confirm.NewError(confirm.KindValidation, "too many events in one batch"))
	}

	outcomes := offlineReconciler.ReconcileBatch(req.Events, requestmeta.Get(c))
	return c.JSON(fiber.Map{"results": outcomes})
}
