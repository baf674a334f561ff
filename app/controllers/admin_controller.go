package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SwedbankPayQueue/app/models"
	"github.com/ManuelReschke/SwedbankPayQueue/app/repository"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/archive"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/reconcile"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/swedbankpay"
)

const defaultPageSize = 50

// QueueAdmin is the queue manager as seen by the admin API.
type QueueAdmin interface {
	Dispatch(ctx context.Context) error
	Stats(ctx context.Context) (jobqueue.Stats, error)
}

// OrderOperator performs operator actions on orders.
type OrderOperator interface {
	ChangeStatus(ctx context.Context, orderID uint, to models.OrderStatus) (*models.Order, error)
	ChargeRenewal(ctx context.Context, orderID uint, amount int64) error
}

// ArchiveReader loads archived callback bodies.
type ArchiveReader interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// GatewayRegistrar swaps the client of a payment method after a settings change.
type GatewayRegistrar interface {
	Register(paymentMethodID string, api swedbankpay.API)
}

// AdminController handles the JSON admin API using the repository pattern
type AdminController struct {
	repos    *repository.Repositories
	queue    QueueAdmin
	operator OrderOperator
	archive  ArchiveReader
	gateways GatewayRegistrar
}

// NewAdminController creates a new admin controller. archive and gateways may be nil.
func NewAdminController(repos *repository.Repositories, queue QueueAdmin, operator OrderOperator, archive ArchiveReader, gateways GatewayRegistrar) *AdminController {
	return &AdminController{
		repos:    repos,
		queue:    queue,
		operator: operator,
		archive:  archive,
		gateways: gateways,
	}
}

// handleError is a helper method for consistent error responses
func (ac *AdminController) handleError(c *fiber.Ctx, status int, message string, err error) error {
	log.Errorf("[Admin] %s: %v", message, err)
	return c.Status(status).JSON(fiber.Map{
		"error": message + ": " + err.Error(),
	})
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// HandleQueueStatus returns queue statistics and the oldest pending job keys
func (ac *AdminController) HandleQueueStatus(c *fiber.Ctx) error {
	ctx, cancel := requestContext()
	defer cancel()

	stats, err := ac.queue.Stats(ctx)
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to read queue stats", err)
	}

	limit := c.QueryInt("limit", defaultPageSize)
	keys, err := ac.repos.Queue.ListJobKeys(ctx, 0, int64(limit))
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to list pending jobs", err)
	}
	lockTTL, err := ac.repos.Queue.GetLockTTL(ctx)
	if err != nil {
		log.Warnf("[Admin] Failed to read lock TTL: %v", err)
	}
	sequence, err := ac.repos.Queue.GetSequence(ctx)
	if err != nil {
		log.Warnf("[Admin] Failed to read job sequence: %v", err)
	}

	lock := fiber.Map{"held": lockTTL > 0}
	if lockTTL > 0 {
		lock["expires_in_seconds"] = int64(lockTTL.Seconds())
	}

	return c.JSON(fiber.Map{
		"stats":        stats,
		"pending_keys": keys,
		"sequence":     sequence,
		"lock":         lock,
	})
}

// HandleQueueJob returns the stored payload of one job
func (ac *AdminController) HandleQueueJob(c *fiber.Ctx) error {
	ctx, cancel := requestContext()
	defer cancel()

	data, err := ac.repos.Queue.GetJobData(ctx, c.Params("key"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job_not_found"})
		}
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to load job", err)
	}
	job, err := jobqueue.JobFromJSON([]byte(data))
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "Stored job is corrupt", err)
	}
	return c.JSON(job)
}

// HandleQueueDispatch starts a queue run in the background
func (ac *AdminController) HandleQueueDispatch(c *fiber.Ctx) error {
	if err := ac.queue.Dispatch(context.Background()); err != nil {
		if errors.Is(err, jobqueue.ErrLockHeld) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to dispatch queue", err)
	}
	log.Info("[Admin] Queue dispatched manually")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "dispatched"})
}

// HandleManualProcessing lists orders that need operator attention
func (ac *AdminController) HandleManualProcessing(c *fiber.Ctx) error {
	ctx, cancel := requestContext()
	defer cancel()

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", defaultPageSize)
	if limit < 1 || limit > 500 {
		limit = defaultPageSize
	}

	orders, err := ac.repos.Order.ListByStatus(ctx, models.OrderStatusManualProcessing, (page-1)*limit, limit)
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to list orders", err)
	}
	return c.JSON(fiber.Map{
		"orders": orders,
		"page":   page,
		"limit":  limit,
	})
}

// HandleOrder returns an order with its notes and transaction log
func (ac *AdminController) HandleOrder(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_order_id"})
	}
	ctx, cancel := requestContext()
	defer cancel()

	order, err := ac.repos.Order.GetByID(ctx, uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
		}
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to load order", err)
	}
	notes, err := ac.repos.Order.ListNotes(ctx, order.ID)
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to load notes", err)
	}
	txs, err := ac.repos.Order.ListTransactions(ctx, order.ID)
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to load transactions", err)
	}

	return c.JSON(fiber.Map{
		"order":        order,
		"notes":        notes,
		"transactions": txs,
	})
}

// HandleCustomerTokens lists the stored payment tokens of a customer
func (ac *AdminController) HandleCustomerTokens(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_customer_id"})
	}

	ctx, cancel := requestContext()
	defer cancel()

	tokens, err := ac.repos.Token.ListByCustomer(ctx, uint(id))
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to load payment tokens", err)
	}
	return c.JSON(fiber.Map{
		"customer_id": id,
		"tokens":      tokens,
	})
}

type statusRequest struct {
	Status models.OrderStatus `json:"status"`
}

// HandleOrderStatus changes an order status as an operator
func (ac *AdminController) HandleOrderStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_order_id"})
	}
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	ctx, cancel := requestContext()
	defer cancel()

	order, err := ac.operator.ChangeStatus(ctx, uint(id), req.Status)
	switch {
	case errors.Is(err, reconcile.ErrInvalidStatus):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, reconcile.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
	case errors.Is(err, jobqueue.ErrLockHeld):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil && order != nil:
		// provider call failed, the status was rolled back
		log.Warnf("[Admin] Status change of order %d reverted: %v", id, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "order": order})
	case err != nil:
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to change status", err)
	}
	return c.JSON(order)
}

type renewalRequest struct {
	Amount int64 `json:"amount"`
}

// HandleOrderRenewal charges a renewal order with its stored token
func (ac *AdminController) HandleOrderRenewal(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_order_id"})
	}
	var req renewalRequest
	if err := c.BodyParser(&req); err != nil || req.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount must be a positive number of minor units"})
	}

	ctx, cancel := requestContext()
	defer cancel()

	if err := ac.operator.ChargeRenewal(ctx, uint(id), req.Amount); err != nil {
		if errors.Is(err, reconcile.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
		}
		if errors.Is(err, jobqueue.ErrLockHeld) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		log.Warnf("[Admin] Renewal of order %d failed: %v", id, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "status": models.OrderStatusManualProcessing})
	}

	order, err := ac.repos.Order.GetByID(ctx, uint(id))
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to reload order", err)
	}
	return c.JSON(order)
}

// HandleGatewaySettings returns the settings of a payment method
func (ac *AdminController) HandleGatewaySettings(c *fiber.Ctx) error {
	gs, err := ac.repos.Setting.GetGatewaySettings(c.Params("method"))
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to load gateway settings", err)
	}
	return c.JSON(gs)
}

type gatewaySettingsRequest struct {
	models.GatewaySettings
	AccessToken *string `json:"access_token"`
}

// HandleGatewaySettingsUpdate stores the settings of a payment method and
// re-registers its client
func (ac *AdminController) HandleGatewaySettingsUpdate(c *fiber.Ctx) error {
	method := c.Params("method")
	current, err := ac.repos.Setting.GetGatewaySettings(method)
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to load gateway settings", err)
	}

	var req gatewaySettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	gs := req.GatewaySettings
	gs.PaymentMethodID = method
	gs.AccessToken = current.AccessToken
	if req.AccessToken != nil {
		gs.AccessToken = *req.AccessToken
	}

	if err := ac.repos.Setting.SaveGatewaySettings(&gs); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if ac.gateways != nil && gs.Enabled {
		ac.gateways.Register(method, swedbankpay.NewClient(&gs))
	}
	log.Infof("[Admin] Gateway settings of %s updated", method)
	return c.JSON(gs)
}

// HandleArchivedCallback returns a raw callback body from the archive
func (ac *AdminController) HandleArchivedCallback(c *fiber.Ctx) error {
	if ac.archive == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "archive_disabled"})
	}
	key := c.Query("key")
	if key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key is required"})
	}

	ctx, cancel := requestContext()
	defer cancel()

	body, err := ac.archive.Fetch(ctx, key)
	if err != nil {
		if errors.Is(err, archive.ErrNotArchived) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_archived"})
		}
		return ac.handleError(c, fiber.StatusInternalServerError, "Failed to fetch archived callback", err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}
