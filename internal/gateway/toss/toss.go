package toss

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	gatewaytypes "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
	"github.com/frahmantamala/payment-orchestration/internal/gateway"
)

const Name = "toss"

// provider status strings and their canonical mapping
var statusTable = map[string]transaction.Status{
	"DONE":                transaction.StatusCompleted,
	"IN_PROGRESS":         transaction.StatusProcessing,
	"WAITING_FOR_DEPOSIT": transaction.StatusPending,
	"READY":               transaction.StatusPending,
	"ABORTED":             transaction.StatusFailed,
	"EXPIRED":             transaction.StatusFailed,
	"CANCELED":            transaction.StatusCancelled,
}

type Config struct {
	MerchantID  string
	SecretKey   string
	APIBaseURL  string
	TestMode    bool
	FixedFee    int64
	PercentRate float64
	Timeout     time.Duration
}

// Adapter speaks the provider's JSON API and maps its status strings onto
// the canonical status set.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (a *Adapter) Name() string     { return Name }
func (a *Adapter) IsTestMode() bool { return a.cfg.TestMode }

func (a *Adapter) ValidateConfig() bool {
	return a.cfg.MerchantID != "" && a.cfg.SecretKey != ""
}

func (a *Adapter) Fees() gatewaytypes.FeeSchedule {
	return gatewaytypes.FeeSchedule{FixedFee: a.cfg.FixedFee, PercentRate: a.cfg.PercentRate}
}

func (a *Adapter) SupportedMethods() map[string]string {
	return map[string]string{
		"card":            "Credit Card",
		"virtual_account": "Virtual Account",
		"mobile":          "Mobile Payment",
	}
}

type paymentBody struct {
	OrderID   string `json:"orderId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	OrderName string `json:"orderName"`
	Customer  struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	Method     string `json:"method"`
	SuccessURL string `json:"successUrl"`
	FailURL    string `json:"failUrl"`
	Signature  string `json:"signature"`
}

type paymentResult struct {
	PaymentKey     string `json:"paymentKey"`
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	ApprovalNumber string `json:"approvalNumber"`
	TotalAmount    int64  `json:"totalAmount"`
	Card           *struct {
		Number      string `json:"number"`
		CardCompany string `json:"cardCompany"`
	} `json:"card"`
	Failure *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"failure"`
}

func (a *Adapter) ProcessPayment(ctx context.Context, req *gatewaytypes.PaymentRequest) (resp *gatewaytypes.PaymentResponse) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic during toss payment", "transaction_id", req.TransactionID, "panic", r)
			resp = gatewaytypes.Failed(req.TransactionID, gatewaytypes.ErrCodeSystemError, "internal gateway adapter error")
		}
	}()

	if a.cfg.TestMode {
		return a.testModeResponse(req)
	}

	body := paymentBody{
		OrderID:    req.TransactionID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		OrderName:  req.ProductName,
		Method:     req.PaymentMethod,
		SuccessURL: req.ReturnURL,
		FailURL:    req.CancelURL,
		Signature:  a.sign(req.TransactionID, req.Amount),
	}
	body.Customer.Name = req.BuyerName
	body.Customer.Email = req.BuyerEmail
	body.Customer.Phone = req.BuyerPhone

	result, err := a.postJSON(ctx, "/v1/payments", body)
	if err != nil {
		a.logger.Error("toss payment request failed", "transaction_id", req.TransactionID, "error", err)
		return gatewaytypes.Failed(req.TransactionID, gatewaytypes.ErrCodeAPIError, "gateway request failed")
	}

	return a.mapResult(req.TransactionID, result)
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, transactionID string) *gatewaytypes.PaymentResponse {
	if a.cfg.TestMode {
		return &gatewaytypes.PaymentResponse{
			Success:              true,
			Status:               transaction.StatusCompleted,
			TransactionID:        transactionID,
			GatewayTransactionID: testPaymentKey(transactionID),
			Message:              "test mode inquiry",
		}
	}

	result, err := a.getJSON(ctx, "/v1/payments/orders/"+transactionID)
	if err != nil {
		a.logger.Error("toss inquiry failed", "transaction_id", transactionID, "error", err)
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeInquiryError, "gateway inquiry failed")
	}
	return a.mapResult(transactionID, result)
}

func (a *Adapter) CancelPayment(ctx context.Context, transactionID, reason string) *gatewaytypes.PaymentResponse {
	if a.cfg.TestMode {
		return &gatewaytypes.PaymentResponse{
			Success:       true,
			Status:        transaction.StatusCancelled,
			TransactionID: transactionID,
			Message:       "test mode cancel",
		}
	}

	body := map[string]string{
		"orderId":      transactionID,
		"cancelReason": reason,
		"signature":    a.sign(transactionID, 0),
	}
	result, err := a.postJSON(ctx, "/v1/payments/cancel", body)
	if err != nil {
		a.logger.Error("toss cancel failed", "transaction_id", transactionID, "error", err)
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeCancelError, "gateway cancel failed")
	}

	if result.Status != "CANCELED" {
		return &gatewaytypes.PaymentResponse{
			Status:        transaction.StatusFailed,
			TransactionID: transactionID,
			ErrorCode:     gatewaytypes.ErrCodeCancelError,
			Message:       failureMessage(result),
		}
	}
	return &gatewaytypes.PaymentResponse{
		Success:              true,
		Status:               transaction.StatusCancelled,
		TransactionID:        transactionID,
		GatewayTransactionID: result.PaymentKey,
		Message:              "payment cancelled",
	}
}

func (a *Adapter) RefundPayment(ctx context.Context, req *gatewaytypes.RefundRequest) *gatewaytypes.RefundResponse {
	if a.cfg.TestMode {
		return &gatewaytypes.RefundResponse{
			Success:        true,
			TransactionID:  req.TransactionID,
			RefundedAmount: req.Amount,
			Message:        "test mode refund",
		}
	}

	body := map[string]any{
		"paymentKey":   req.GatewayTransactionID,
		"cancelAmount": req.Amount,
		"cancelReason": req.Reason,
		"signature":    a.sign(req.TransactionID, req.Amount),
	}
	result, err := a.postJSON(ctx, "/v1/payments/"+req.GatewayTransactionID+"/cancel", body)
	if err != nil {
		a.logger.Error("toss refund failed", "transaction_id", req.TransactionID, "error", err)
		return &gatewaytypes.RefundResponse{
			TransactionID: req.TransactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       "gateway refund failed",
		}
	}

	if result.Failure != nil {
		return &gatewaytypes.RefundResponse{
			TransactionID: req.TransactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       result.Failure.Message,
		}
	}
	return &gatewaytypes.RefundResponse{
		Success:        true,
		TransactionID:  req.TransactionID,
		RefundedAmount: req.Amount,
		Message:        "refund accepted",
	}
}

// VerifyWebhook recomputes HMAC-SHA256(orderId:paymentKey:totalAmount) with
// the merchant secret and compares in constant time.
func (a *Adapter) VerifyWebhook(payload gatewaytypes.WebhookPayload, signature string) bool {
	if signature == "" {
		return false
	}
	orderID := gateway.PayloadString(payload, "orderId")
	paymentKey := gateway.PayloadString(payload, "paymentKey")
	amount := gateway.PayloadString(payload, "totalAmount")
	if orderID == "" || paymentKey == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	fmt.Fprintf(mac, "%s:%s:%s", orderID, paymentKey, amount)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (a *Adapter) ParseWebhookData(payload gatewaytypes.WebhookPayload) (*gatewaytypes.PaymentResponse, error) {
	orderID := gateway.PayloadString(payload, "orderId")
	if orderID == "" {
		return nil, fmt.Errorf("toss webhook missing orderId")
	}

	resp := &gatewaytypes.PaymentResponse{
		TransactionID:        orderID,
		GatewayTransactionID: gateway.PayloadString(payload, "paymentKey"),
		ApprovalNumber:       gateway.PayloadString(payload, "approvalNumber"),
		RawData:              payload,
	}
	if amount := gateway.PayloadString(payload, "totalAmount"); amount != "" {
		resp.Amount, _ = strconv.ParseInt(amount, 10, 64)
	}

	status, ok := statusTable[gateway.PayloadString(payload, "status")]
	if !ok {
		status = transaction.StatusFailed
	}
	resp.Status = status
	resp.Success = status != transaction.StatusFailed
	if !resp.Success {
		resp.Message = gateway.PayloadString(payload, "failureMessage")
	}
	return resp, nil
}

func (a *Adapter) sign(transactionID string, amount int64) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.SecretKey))
	fmt.Fprintf(mac, "%s:%s:%d", a.cfg.MerchantID, transactionID, amount)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) postJSON(ctx context.Context, path string, body any) (*paymentResult, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+a.cfg.SecretKey)

	return a.do(httpReq)
}

func (a *Adapter) getJSON(ctx context.Context, path string) (*paymentResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIBaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Basic "+a.cfg.SecretKey)
	return a.do(httpReq)
}

func (a *Adapter) do(httpReq *http.Request) (*paymentResult, error) {
	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, body)
	}

	var result paymentResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func (a *Adapter) mapResult(transactionID string, result *paymentResult) *gatewaytypes.PaymentResponse {
	resp := &gatewaytypes.PaymentResponse{
		TransactionID:        transactionID,
		GatewayTransactionID: result.PaymentKey,
		ApprovalNumber:       result.ApprovalNumber,
		Amount:               result.TotalAmount,
	}
	if result.Card != nil {
		resp.Card = &gatewaytypes.CardInfo{
			MaskedNumber: result.Card.Number,
			CardType:     result.Card.CardCompany,
		}
	}

	status, ok := statusTable[result.Status]
	if !ok {
		status = transaction.StatusFailed
	}
	resp.Status = status
	resp.Success = status == transaction.StatusCompleted ||
		status == transaction.StatusPending ||
		status == transaction.StatusProcessing
	if !resp.Success {
		resp.Message = failureMessage(result)
	}
	return resp
}

func failureMessage(result *paymentResult) string {
	if result.Failure != nil {
		return result.Failure.Message
	}
	return "payment not approved"
}

func (a *Adapter) testModeResponse(req *gatewaytypes.PaymentRequest) *gatewaytypes.PaymentResponse {
	resp := &gatewaytypes.PaymentResponse{
		Success:              true,
		Status:               transaction.StatusCompleted,
		TransactionID:        req.TransactionID,
		GatewayTransactionID: testPaymentKey(req.TransactionID),
		ApprovalNumber:       "T" + shortHash(req.TransactionID),
		Amount:               req.Amount,
		Message:              "test mode approval",
	}
	if req.PaymentMethod == "card" {
		resp.Card = &gatewaytypes.CardInfo{
			MaskedNumber: gateway.MaskCardNumber("5100001234567890"),
			CardType:     "TESTCARD",
		}
	}
	return resp
}

func testPaymentKey(transactionID string) string {
	return "toss-test-" + shortHash(transactionID)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}
