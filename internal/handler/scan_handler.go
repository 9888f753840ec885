package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/boletapp/scan-engine/internal/credit"
	"github.com/boletapp/scan-engine/internal/domain"
	"github.com/boletapp/scan-engine/internal/repository"
	"github.com/boletapp/scan-engine/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 200

	// userIDHeader carries the authenticated user identity resolved by
	// the auth proxy in front of this service.
	userIDHeader = "X-User-ID"
)

type ScanHandler struct {
	scans        *service.ScanService
	transactions repository.TransactionGateway
	credits      credit.Ledger
}

func NewScanHandler(scans *service.ScanService, transactions repository.TransactionGateway, credits credit.Ledger) (*ScanHandler, error) {
	if scans == nil {
		return nil, fmt.Errorf("scan service is required")
	}
	if transactions == nil {
		return nil, fmt.Errorf("transaction gateway is required")
	}
	return &ScanHandler{scans: scans, transactions: transactions, credits: credits}, nil
}

func RegisterScanRoutes(router fiber.Router, scans *service.ScanService, transactions repository.TransactionGateway, credits credit.Ledger) error {
	h, err := NewScanHandler(scans, transactions, credits)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.SubmitBatch)
	v1.Get("/batches/:id", h.GetBatch)
	v1.Post("/batches/:id/cancel", h.CancelBatch)
	v1.Delete("/batches/:id", h.DiscardBatch)
	v1.Get("/batches/:id/review", h.GetReview)
	v1.Post("/batches/:id/review/:index", h.Decide)
	v1.Post("/batches/:id/commit", h.Commit)
	v1.Get("/transactions", h.ListTransactions)
	v1.Get("/transactions/:id", h.GetTransaction)
	v1.Delete("/transactions/:id", h.DeleteTransaction)
	v1.Get("/credits", h.GetCredits)
	v1.Post("/credits/topup", h.TopUpCredits)

	return nil
}

type receiptItemPayload struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Category string          `json:"category,omitempty"`
}

type receiptPayload struct {
	Merchant string               `json:"merchant"`
	Date     string               `json:"date"`
	Total    decimal.Decimal      `json:"total"`
	Category string               `json:"category"`
	Items    []receiptItemPayload `json:"items"`
}

type decideRequest struct {
	Decision string          `json:"decision"`
	Receipt  *receiptPayload `json:"receipt,omitempty"`
}

type submitBatchResponse struct {
	BatchID    string `json:"batchId"`
	TotalCount int    `json:"totalCount"`
	Phase      string `json:"phase"`
}

type unitResponse struct {
	Index           int    `json:"index"`
	Status          string `json:"status"`
	MerchantPreview string `json:"merchantPreview,omitempty"`
	ErrorSummary    string `json:"errorSummary,omitempty"`
}

type progressEventResponse struct {
	Index           int    `json:"index"`
	Total           int    `json:"total"`
	Status          string `json:"status"`
	MerchantPreview string `json:"merchantPreview,omitempty"`
	ErrorSummary    string `json:"errorSummary,omitempty"`
}

type batchResponse struct {
	BatchID   string                  `json:"batchId"`
	Phase     string                  `json:"phase"`
	Total     int                     `json:"total"`
	Processed int                     `json:"processed"`
	Cancelled bool                    `json:"cancelled"`
	Units     []unitResponse          `json:"units"`
	Progress  []progressEventResponse `json:"progress"`
}

type reviewItemResponse struct {
	Index        int             `json:"index"`
	Status       string          `json:"status"`
	Decision     string          `json:"decision"`
	Receipt      *receiptPayload `json:"receipt,omitempty"`
	ErrorKind    string          `json:"errorKind,omitempty"`
	ErrorSummary string          `json:"errorSummary,omitempty"`
	CommittedID  string          `json:"committedId,omitempty"`
}

type transactionResponse struct {
	ID       string               `json:"id"`
	BatchID  string               `json:"batchId"`
	Merchant string               `json:"merchant"`
	Date     string               `json:"date,omitempty"`
	Total    decimal.Decimal      `json:"total"`
	Category string               `json:"category,omitempty"`
	Items    []receiptItemPayload `json:"items"`
}

type saveErrorResponse struct {
	Index        int    `json:"index"`
	ErrorKind    string `json:"errorKind"`
	ErrorSummary string `json:"errorSummary"`
}

type summaryResponse struct {
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	TransactionCount int             `json:"transactionCount"`
	FailedCount      int             `json:"failedCount"`
}

type commitResponse struct {
	BatchID    string                `json:"batchId"`
	Saved      []transactionResponse `json:"saved"`
	SaveErrors []saveErrorResponse   `json:"saveErrors,omitempty"`
	Summary    summaryResponse       `json:"summary"`
	Warning    string                `json:"warning,omitempty"`
}

type listTransactionsResponse struct {
	Data []transactionResponse `json:"data"`
	Meta listMeta              `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *ScanHandler) SubmitBatch(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form with images is required")
	}

	files := form.File["images"]
	images, err := readImages(files)
	if err != nil {
		return toHTTPError(err)
	}

	session, err := h.scans.Submit(c.Context(), userID, images)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(submitBatchResponse{
		BatchID:    session.BatchID(),
		TotalCount: len(images),
		Phase:      service.PhaseProcessing.String(),
	})
}

func (h *ScanHandler) GetBatch(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}

	session, err := h.scans.Session(strings.TrimSpace(c.Params("id")), userID)
	if err != nil {
		return toHTTPError(err)
	}

	snapshot := session.Snapshot()
	units := make([]unitResponse, 0, len(snapshot.Units))
	for _, unit := range snapshot.Units {
		units = append(units, unitResponse{
			Index:           unit.Index,
			Status:          unit.Status.String(),
			MerchantPreview: unit.MerchantPreview,
			ErrorSummary:    unit.ErrorSummary,
		})
	}
	progress := make([]progressEventResponse, 0, len(snapshot.Progress))
	for _, event := range snapshot.Progress {
		progress = append(progress, progressEventResponse{
			Index:           event.Index,
			Total:           event.Total,
			Status:          event.Status.String(),
			MerchantPreview: event.MerchantPreview,
			ErrorSummary:    event.ErrorSummary,
		})
	}

	return c.Status(fiber.StatusOK).JSON(batchResponse{
		BatchID:   snapshot.BatchID,
		Phase:     snapshot.Phase.String(),
		Total:     snapshot.Total,
		Processed: snapshot.Processed,
		Cancelled: snapshot.Cancelled,
		Units:     units,
		Progress:  progress,
	})
}

func (h *ScanHandler) CancelBatch(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}

	batchID := strings.TrimSpace(c.Params("id"))
	if err := h.scans.Cancel(batchID, userID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"batchId":   batchID,
		"cancelled": true,
	})
}

func (h *ScanHandler) DiscardBatch(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}

	batchID := strings.TrimSpace(c.Params("id"))
	if err := h.scans.Discard(batchID, userID); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ScanHandler) GetReview(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}

	session, err := h.scans.Session(strings.TrimSpace(c.Params("id")), userID)
	if err != nil {
		return toHTTPError(err)
	}

	items := session.ReviewItems()
	responses := make([]reviewItemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, reviewItemResponse{
			Index:        item.Index,
			Status:       item.Status.String(),
			Decision:     item.Decision.String(),
			Receipt:      receiptToPayload(item.Receipt),
			ErrorKind:    item.ErrorKind,
			ErrorSummary: item.ErrorSummary,
			CommittedID:  item.CommittedID,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"batchId": session.BatchID(),
		"items":   responses,
	})
}

func (h *ScanHandler) Decide(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}

	index, err := strconv.Atoi(strings.TrimSpace(c.Params("index")))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "unit index must be an integer")
	}

	var req decideRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	decision, err := domain.ParseDecisionFromString(req.Decision)
	if err != nil {
		return toHTTPError(err)
	}

	var edited *domain.Receipt
	if req.Receipt != nil {
		edited = payloadToReceipt(*req.Receipt)
	}

	batchID := strings.TrimSpace(c.Params("id"))
	if err := h.scans.Decide(batchID, userID, index, decision, edited); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"batchId":  batchID,
		"index":    index,
		"decision": decision.String(),
	})
}

func (h *ScanHandler) Commit(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}

	batchID := strings.TrimSpace(c.Params("id"))
	result, summary, err := h.scans.Commit(c.Context(), batchID, userID)
	if err != nil {
		return toHTTPError(err)
	}

	saved := make([]transactionResponse, 0, len(result.Saved))
	for i := range result.Saved {
		saved = append(saved, toTransactionResponse(&result.Saved[i]))
	}
	saveErrors := make([]saveErrorResponse, 0, len(result.SaveErrors))
	for _, saveErr := range result.SaveErrors {
		saveErrors = append(saveErrors, saveErrorResponse{
			Index:        saveErr.Item.Unit.Index,
			ErrorKind:    repository.ClassifyPersistenceError(saveErr.Err).String(),
			ErrorSummary: saveErr.Err.Error(),
		})
	}

	response := commitResponse{
		BatchID:    batchID,
		Saved:      saved,
		SaveErrors: saveErrors,
		Summary: summaryResponse{
			TotalAmount:      summary.TotalAmount,
			TransactionCount: summary.TransactionCount,
			FailedCount:      summary.FailedCount,
		},
	}
	if len(saveErrors) > 0 {
		response.Warning = fmt.Sprintf("%d of %d items failed to save and can be retried", len(saveErrors), len(saved)+len(saveErrors))
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func (h *ScanHandler) ListTransactions(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}

	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	transactions, total, err := h.transactions.ListByUser(c.Context(), userID, params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]transactionResponse, 0, len(transactions))
	for i := range transactions {
		data = append(data, toTransactionResponse(&transactions[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listTransactionsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *ScanHandler) GetTransaction(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}

	tx, err := h.transactions.GetByID(c.Context(), userID, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toTransactionResponse(tx))
}

func (h *ScanHandler) DeleteTransaction(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}

	if err := h.transactions.Delete(c.Context(), userID, strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ScanHandler) GetCredits(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}
	if h.credits == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "credit metering is not configured")
	}

	balance, err := h.credits.Balance(c.Context(), userID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"balance": balance,
	})
}

func (h *ScanHandler) TopUpCredits(c *fiber.Ctx) error {
	userID, err := requestUserID(c)
	if err != nil {
		return err
	}
	if h.credits == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "credit metering is not configured")
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Amount <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "amount must be positive")
	}

	balance, err := h.credits.TopUp(c.Context(), userID, req.Amount)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"balance": balance,
	})
}

func requestUserID(c *fiber.Ctx) (string, error) {
	userID := strings.TrimSpace(c.Get(userIDHeader))
	if userID == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "X-User-ID header is required")
	}
	return userID, nil
}

func readImages(files []*multipart.FileHeader) ([]domain.BatchImage, error) {
	images := make([]domain.BatchImage, 0, len(files))
	for i, file := range files {
		reader, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: image %d could not be read", domain.ErrValidation, i)
		}
		data, err := io.ReadAll(reader)
		closeErr := reader.Close()
		if err != nil || closeErr != nil {
			return nil, fmt.Errorf("%w: image %d could not be read", domain.ErrValidation, i)
		}
		images = append(images, domain.BatchImage{
			Data:     data,
			MimeType: file.Header.Get("Content-Type"),
		})
	}
	return images, nil
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Category: strings.TrimSpace(c.Query("category")),
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	return params, nil
}

func receiptToPayload(r *domain.Receipt) *receiptPayload {
	if r == nil {
		return nil
	}

	items := make([]receiptItemPayload, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, receiptItemPayload{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			Category: item.Category,
		})
	}

	return &receiptPayload{
		Merchant: r.Merchant,
		Date:     r.Date,
		Total:    r.Total,
		Category: r.Category,
		Items:    items,
	}
}

func payloadToReceipt(p receiptPayload) *domain.Receipt {
	items := make([]domain.ReceiptItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, domain.ReceiptItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			Category: item.Category,
		})
	}

	return &domain.Receipt{
		Merchant: p.Merchant,
		Date:     p.Date,
		Total:    p.Total,
		Category: p.Category,
		Items:    items,
	}
}

func toTransactionResponse(t *domain.Transaction) transactionResponse {
	if t == nil {
		return transactionResponse{}
	}

	items := make([]receiptItemPayload, 0, len(t.Items))
	for _, item := range t.Items {
		items = append(items, receiptItemPayload{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
			Category: item.Category,
		})
	}

	return transactionResponse{
		ID:       t.ID,
		BatchID:  t.BatchID,
		Merchant: t.Merchant,
		Date:     t.Date,
		Total:    t.Total,
		Category: t.Category,
		Items:    items,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, credit.ErrInsufficientCredits):
		return fiber.NewError(fiber.StatusPaymentRequired, err.Error())
	default:
		return err
	}
}
