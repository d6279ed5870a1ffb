package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"rental-sync/internal/delivery/http/dto"
	"rental-sync/internal/delivery/http/middleware"
	"rental-sync/internal/domain/listing"
	"rental-sync/internal/domain/syncrun"
	"rental-sync/internal/pkg/response"
	"rental-sync/internal/usecase/geocode"
	"rental-sync/internal/usecase/reconcile"
	"rental-sync/internal/usecase/syncjob"

	"github.com/gofiber/fiber/v3"
)

type JobService interface {
	Import(ctx context.Context, market string, records []listing.Snapshot) (reconcile.Result, error)
	Sync(ctx context.Context, market string, in reconcile.SyncInput) (reconcile.Result, error)
	Refresh(ctx context.Context, market string) (reconcile.Result, error)
	Backfill(ctx context.Context, f geocode.Filter) (geocode.Report, error)
	ListRuns(ctx context.Context, market string, limit int) ([]syncrun.Run, error)
}

type JobsHandler struct {
	svc JobService
}

func NewJobsHandler(svc JobService) *JobsHandler {
	return &JobsHandler{svc: svc}
}

// RegisterRoutes mounts the job endpoints. readMw guards run history and
// runMw guards the triggers; they are applied per route so a token needs
// only the scope of the endpoint it calls.
func (h *JobsHandler) RegisterRoutes(r fiber.Router, readMw, runMw fiber.Handler) {
	if r == nil {
		return
	}
	r.Get("/runs", readMw, h.HandleListRuns)
	r.Post("/markets/:market/import", runMw, h.HandleImport)
	r.Post("/markets/:market/sync", runMw, h.HandleSync)
	r.Post("/markets/:market/refresh", runMw, h.HandleRefresh)
	r.Post("/geocode/backfill", runMw, h.HandleBackfill)
}

func (h *JobsHandler) HandleImport(c fiber.Ctx) error {
	market := strings.TrimSpace(c.Params("market"))

	var req dto.ImportRequest
	if err := c.Bind().Body(&req); err != nil {
		return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
	}

	res, err := h.svc.Import(c.Context(), market, req.Records)
	return respondResult(c, market, res, err)
}

func (h *JobsHandler) HandleSync(c fiber.Ctx) error {
	market := strings.TrimSpace(c.Params("market"))

	var req dto.SyncRequest
	if err := c.Bind().Body(&req); err != nil {
		return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
	}

	res, err := h.svc.Sync(c.Context(), market, reconcile.SyncInput{
		CurrentURLs: req.CurrentURLs,
		NewRecords:  req.NewRecords,
		RemovedURLs: req.RemovedURLs,
	})
	return respondResult(c, market, res, err)
}

func (h *JobsHandler) HandleRefresh(c fiber.Ctx) error {
	market := strings.TrimSpace(c.Params("market"))

	res, err := h.svc.Refresh(c.Context(), market)
	return respondResult(c, market, res, err)
}

func (h *JobsHandler) HandleBackfill(c fiber.Ctx) error {
	limit, err := parseQueryIntStrict(c, "limit", 0)
	if err != nil || limit < 0 {
		return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
	}
	market := strings.TrimSpace(c.Query("market"))

	rep, err := h.svc.Backfill(c.Context(), geocode.Filter{Market: market, Limit: limit})
	if err != nil {
		return mapJobError(err)
	}
	return response.Success(c, fiber.StatusOK, response.MessageJobCompleted, dto.BackfillResponse{Market: market, Report: rep})
}

func (h *JobsHandler) HandleListRuns(c fiber.Ctx) error {
	limit, err := parseQueryIntStrict(c, "limit", 20)
	if err != nil || limit <= 0 {
		return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
	}

	runs, err := h.svc.ListRuns(c.Context(), c.Query("market"), limit)
	if err != nil {
		return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
	}

	out := make([]dto.SyncRunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, dto.NewSyncRunResponse(r))
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, out)
}

func respondResult(c fiber.Ctx, market string, res reconcile.Result, err error) error {
	body := dto.JobResultResponse{Market: market, Result: res}
	if err != nil {
		if errors.Is(err, reconcile.ErrValidation) {
			return response.Error(c, fiber.StatusUnprocessableEntity, response.MessageSyncRejected, body)
		}
		return mapJobError(err)
	}

	msg := response.MessageJobCompleted
	if len(res.Summary.Errors) > 0 {
		msg = response.MessageJobCompletedPartial
	}
	return response.Success(c, fiber.StatusOK, msg, body)
}

func mapJobError(err error) error {
	switch {
	case errors.Is(err, syncjob.ErrInvalidInput):
		return middleware.NewAppError(fiber.StatusBadRequest, "Bad request", nil, err)
	case errors.Is(err, syncjob.ErrJobInProgress):
		return middleware.NewAppError(fiber.StatusConflict, response.MessageJobInProgress, nil, err)
	case errors.Is(err, reconcile.ErrSnapshotSource):
		return middleware.NewAppError(fiber.StatusBadGateway, response.MessageSnapshotSourceFailed, nil, err)
	case errors.Is(err, syncjob.ErrSourceMissing), errors.Is(err, syncjob.ErrGeocoderMissing):
		return middleware.NewAppError(fiber.StatusServiceUnavailable, response.MessageServiceUnavailable, nil, err)
	default:
		return middleware.NewAppError(fiber.StatusInternalServerError, response.MessageInternalServerError, nil, err)
	}
}

func parseQueryIntStrict(c fiber.Ctx, key string, defaultVal int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(s)
}
