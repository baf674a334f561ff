package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SwedbankPayQueue/app/repository"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/archive"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
)

// Global controller instances
var (
	adminController   *AdminController
	webhookController *WebhookController
)

// InitializeAdminController initializes the global admin controller with repositories
func InitializeAdminController(operator OrderOperator, archive ArchiveReader, gateways GatewayRegistrar) {
	repos := repository.GetGlobalRepositories()
	adminController = NewAdminController(repos, jobqueue.GetManager(), operator, archive, gateways)
}

// InitializeWebhookController initializes the global callback controller
func InitializeWebhookController(recorder EventRecorder, archiver archive.Archiver) {
	repos := repository.GetGlobalRepositories()
	webhookController = NewWebhookController(repos.Order, recorder, jobqueue.GetManager(), archiver)
}

// GetAdminController returns the global admin controller instance
func GetAdminController() *AdminController {
	if adminController == nil {
		panic("Admin controller not initialized. Call InitializeAdminController first.")
	}
	return adminController
}

// GetWebhookController returns the global callback controller instance
func GetWebhookController() *WebhookController {
	if webhookController == nil {
		panic("Webhook controller not initialized. Call InitializeWebhookController first.")
	}
	return webhookController
}

// Adapter functions used by the router

// HandleSwedbankPayCallback - Adapter for the provider callback
func HandleSwedbankPayCallback(c *fiber.Ctx) error {
	return GetWebhookController().HandleCallback(c)
}

// HandleAdminQueue - Adapter for queue status
func HandleAdminQueue(c *fiber.Ctx) error {
	return GetAdminController().HandleQueueStatus(c)
}

// HandleAdminQueueJob - Adapter for a single job
func HandleAdminQueueJob(c *fiber.Ctx) error {
	return GetAdminController().HandleQueueJob(c)
}

// HandleAdminQueueDispatch - Adapter for manual dispatch
func HandleAdminQueueDispatch(c *fiber.Ctx) error {
	return GetAdminController().HandleQueueDispatch(c)
}

// HandleAdminManualProcessing - Adapter for the manual processing list
func HandleAdminManualProcessing(c *fiber.Ctx) error {
	return GetAdminController().HandleManualProcessing(c)
}

// HandleAdminOrder - Adapter for order details
func HandleAdminOrder(c *fiber.Ctx) error {
	return GetAdminController().HandleOrder(c)
}

// HandleAdminCustomerTokens - Adapter for stored payment tokens
func HandleAdminCustomerTokens(c *fiber.Ctx) error {
	return GetAdminController().HandleCustomerTokens(c)
}

// HandleAdminOrderStatus - Adapter for operator status changes
func HandleAdminOrderStatus(c *fiber.Ctx) error {
	return GetAdminController().HandleOrderStatus(c)
}

// HandleAdminOrderRenewal - Adapter for renewal charges
func HandleAdminOrderRenewal(c *fiber.Ctx) error {
	return GetAdminController().HandleOrderRenewal(c)
}

// HandleAdminGatewaySettings - Adapter for reading gateway settings
func HandleAdminGatewaySettings(c *fiber.Ctx) error {
	return GetAdminController().HandleGatewaySettings(c)
}

// HandleAdminGatewaySettingsUpdate - Adapter for updating gateway settings
func HandleAdminGatewaySettingsUpdate(c *fiber.Ctx) error {
	return GetAdminController().HandleGatewaySettingsUpdate(c)
}

// HandleAdminArchivedCallback - Adapter for archived callback bodies
func HandleAdminArchivedCallback(c *fiber.Ctx) error {
	return GetAdminController().HandleArchivedCallback(c)
}
