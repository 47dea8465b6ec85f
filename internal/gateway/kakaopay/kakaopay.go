package kakaopay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gatewaytypes "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
	"github.com/frahmantamala/payment-orchestration/internal/gateway"
)

const Name = "kakaopay"

// numeric result codes used by the provider
const (
	codeSuccess    = "0"
	codeProcessing = "1"
)

type Config struct {
	CID         string // merchant code
	AdminKey    string
	APIBaseURL  string
	TestMode    bool
	FixedFee    int64
	PercentRate float64
	Timeout     time.Duration
}

// Adapter drives the provider's form-encoded API.
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
	return a.cfg.CID != "" && a.cfg.AdminKey != ""
}

func (a *Adapter) Fees() gatewaytypes.FeeSchedule {
	return gatewaytypes.FeeSchedule{FixedFee: a.cfg.FixedFee, PercentRate: a.cfg.PercentRate}
}

func (a *Adapter) SupportedMethods() map[string]string {
	return map[string]string{
		"card":        "Credit Card",
		"kakao_money": "Kakao Money",
	}
}

func (a *Adapter) ProcessPayment(ctx context.Context, req *gatewaytypes.PaymentRequest) (resp *gatewaytypes.PaymentResponse) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic during kakaopay payment", "transaction_id", req.TransactionID, "panic", r)
			resp = gatewaytypes.Failed(req.TransactionID, gatewaytypes.ErrCodeSystemError, "internal gateway adapter error")
		}
	}()

	if a.cfg.TestMode {
		return a.testModeResponse(req)
	}

	form := url.Values{}
	form.Set("cid", a.cfg.CID)
	form.Set("partner_order_id", req.TransactionID)
	form.Set("total_amount", strconv.FormatInt(req.Amount, 10))
	form.Set("item_name", req.ProductName)
	form.Set("partner_user_id", req.BuyerEmail)
	form.Set("approval_url", req.ReturnURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("payment_method_type", methodCode(req.PaymentMethod))
	form.Set("signature", a.sign(req.TransactionID, req.Amount))

	raw, err := a.postForm(ctx, "/v1/payment/ready", form)
	if err != nil {
		a.logger.Error("kakaopay payment request failed", "transaction_id", req.TransactionID, "error", err)
		return gatewaytypes.Failed(req.TransactionID, gatewaytypes.ErrCodeAPIError, "gateway request failed")
	}

	return a.mapResult(req.TransactionID, raw)
}

func (a *Adapter) GetPaymentStatus(ctx context.Context, transactionID string) *gatewaytypes.PaymentResponse {
	if a.cfg.TestMode {
		return &gatewaytypes.PaymentResponse{
			Success:              true,
			Status:               transaction.StatusCompleted,
			TransactionID:        transactionID,
			GatewayTransactionID: testTID(transactionID),
			Message:              "test mode inquiry",
		}
	}

	form := url.Values{}
	form.Set("cid", a.cfg.CID)
	form.Set("partner_order_id", transactionID)
	form.Set("signature", a.sign(transactionID, 0))

	raw, err := a.postForm(ctx, "/v1/payment/order", form)
	if err != nil {
		a.logger.Error("kakaopay inquiry failed", "transaction_id", transactionID, "error", err)
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeInquiryError, "gateway inquiry failed")
	}
	return a.mapResult(transactionID, raw)
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

	form := url.Values{}
	form.Set("cid", a.cfg.CID)
	form.Set("partner_order_id", transactionID)
	form.Set("cancel_reason", reason)
	form.Set("signature", a.sign(transactionID, 0))

	raw, err := a.postForm(ctx, "/v1/payment/cancel", form)
	if err != nil {
		a.logger.Error("kakaopay cancel failed", "transaction_id", transactionID, "error", err)
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeCancelError, "gateway cancel failed")
	}

	if asString(raw["code"]) != codeSuccess {
		return &gatewaytypes.PaymentResponse{
			Status:        transaction.StatusFailed,
			TransactionID: transactionID,
			ErrorCode:     gatewaytypes.ErrCodeCancelError,
			Message:       asString(raw["msg"]),
			RawData:       raw,
		}
	}
	return &gatewaytypes.PaymentResponse{
		Success:       true,
		Status:        transaction.StatusCancelled,
		TransactionID: transactionID,
		Message:       "payment cancelled",
		RawData:       raw,
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

	form := url.Values{}
	form.Set("cid", a.cfg.CID)
	form.Set("tid", req.GatewayTransactionID)
	form.Set("partner_order_id", req.TransactionID)
	form.Set("cancel_amount", strconv.FormatInt(req.Amount, 10))
	form.Set("cancel_reason", req.Reason)
	form.Set("signature", a.sign(req.TransactionID, req.Amount))

	raw, err := a.postForm(ctx, "/v1/payment/cancel", form)
	if err != nil {
		a.logger.Error("kakaopay refund failed", "transaction_id", req.TransactionID, "error", err)
		return &gatewaytypes.RefundResponse{
			TransactionID: req.TransactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       "gateway refund failed",
		}
	}

	if asString(raw["code"]) != codeSuccess {
		return &gatewaytypes.RefundResponse{
			TransactionID: req.TransactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       asString(raw["msg"]),
			RawData:       raw,
		}
	}
	return &gatewaytypes.RefundResponse{
		Success:        true,
		TransactionID:  req.TransactionID,
		RefundedAmount: req.Amount,
		Message:        "refund accepted",
		RawData:        raw,
	}
}

// VerifyWebhook recomputes HMAC-SHA256(cid|tid|partner_order_id|amount) with
// the admin key and compares in constant time.
func (a *Adapter) VerifyWebhook(payload gatewaytypes.WebhookPayload, signature string) bool {
	if signature == "" {
		return false
	}
	tid := gateway.PayloadString(payload, "tid")
	orderID := gateway.PayloadString(payload, "partner_order_id")
	amount := gateway.PayloadString(payload, "amount")
	if tid == "" || orderID == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.AdminKey))
	fmt.Fprintf(mac, "%s|%s|%s|%s", a.cfg.CID, tid, orderID, amount)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (a *Adapter) ParseWebhookData(payload gatewaytypes.WebhookPayload) (*gatewaytypes.PaymentResponse, error) {
	tid := gateway.PayloadString(payload, "tid")
	orderID := gateway.PayloadString(payload, "partner_order_id")
	if tid == "" && orderID == "" {
		return nil, fmt.Errorf("kakaopay webhook missing tid and partner_order_id")
	}

	resp := &gatewaytypes.PaymentResponse{
		TransactionID:        orderID,
		GatewayTransactionID: tid,
		ApprovalNumber:       gateway.PayloadString(payload, "aid"),
		RawData:              payload,
	}
	if amount := gateway.PayloadString(payload, "amount"); amount != "" {
		resp.Amount, _ = strconv.ParseInt(amount, 10, 64)
	}

	switch gateway.PayloadString(payload, "code") {
	case codeSuccess:
		resp.Success = true
		resp.Status = transaction.StatusCompleted
	case codeProcessing:
		resp.Success = true
		resp.Status = transaction.StatusProcessing
	default:
		resp.Status = transaction.StatusFailed
		resp.Message = gateway.PayloadString(payload, "msg")
	}
	return resp, nil
}

func (a *Adapter) sign(transactionID string, amount int64) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.AdminKey))
	fmt.Fprintf(mac, "%s|%s|%d", a.cfg.CID, transactionID, amount)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) postForm(ctx context.Context, path string, form url.Values) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.APIBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "KakaoAK "+a.cfg.AdminKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", httpResp.StatusCode, body)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return raw, nil
}

func (a *Adapter) mapResult(transactionID string, raw map[string]any) *gatewaytypes.PaymentResponse {
	resp := &gatewaytypes.PaymentResponse{
		TransactionID:        transactionID,
		GatewayTransactionID: asString(raw["tid"]),
		ApprovalNumber:       asString(raw["aid"]),
		RawData:              raw,
	}

	switch asString(raw["code"]) {
	case codeSuccess:
		resp.Success = true
		resp.Status = transaction.StatusCompleted
		resp.Message = "payment approved"
	case codeProcessing:
		resp.Success = true
		resp.Status = transaction.StatusProcessing
		resp.Message = "payment in progress"
	default:
		resp.Status = transaction.StatusFailed
		resp.Message = asString(raw["msg"])
	}
	return resp
}

func methodCode(method string) string {
	if method == "kakao_money" {
		return "MONEY"
	}
	return "CARD"
}

func (a *Adapter) testModeResponse(req *gatewaytypes.PaymentRequest) *gatewaytypes.PaymentResponse {
	resp := &gatewaytypes.PaymentResponse{
		Success:              true,
		Status:               transaction.StatusCompleted,
		TransactionID:        req.TransactionID,
		GatewayTransactionID: testTID(req.TransactionID),
		ApprovalNumber:       "K" + shortHash(req.TransactionID),
		Amount:               req.Amount,
		Message:              "test mode approval",
	}
	if req.PaymentMethod == "card" {
		resp.Card = &gatewaytypes.CardInfo{
			MaskedNumber: gateway.MaskCardNumber("9410123456789012"),
			CardType:     "TESTCARD",
		}
	}
	return resp
}

func testTID(transactionID string) string {
	return "T-KAKAO-" + shortHash(transactionID)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return fmt.Sprintf("%v", s)
	default:
		return fmt.Sprintf("%v", s)
	}
}
