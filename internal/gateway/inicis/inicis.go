package inicis

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
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

const Name = "inicis"

// result codes returned by the provider. Everything outside this table maps
// to a canonical failed status.
const (
	resultSuccess        = "0000"
	resultPendingDeposit = "0001"
)

type Config struct {
	MerchantID  string
	SignKey     string
	APIBaseURL  string
	TestMode    bool
	FixedFee    int64
	PercentRate float64
	Timeout     time.Duration
}

// Adapter translates the canonical payment contract to the Inicis
// form-encoded wire format.
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
	return a.cfg.MerchantID != "" && a.cfg.SignKey != ""
}

func (a *Adapter) Fees() gatewaytypes.FeeSchedule {
	return gatewaytypes.FeeSchedule{FixedFee: a.cfg.FixedFee, PercentRate: a.cfg.PercentRate}
}

func (a *Adapter) SupportedMethods() map[string]string {
	return map[string]string{
		"card":            "Credit Card",
		"bank":            "Bank Transfer",
		"virtual_account": "Virtual Account",
	}
}

var methodCodes = map[string]string{
	"card":            "Card",
	"bank":            "DirectBank",
	"virtual_account": "VBank",
}

func (a *Adapter) ProcessPayment(ctx context.Context, req *gatewaytypes.PaymentRequest) (resp *gatewaytypes.PaymentResponse) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic during inicis payment", "transaction_id", req.TransactionID, "panic", r)
			resp = gatewaytypes.Failed(req.TransactionID, gatewaytypes.ErrCodeSystemError, "internal gateway adapter error")
		}
	}()

	if a.cfg.TestMode {
		return a.testModeResponse(req)
	}

	form := url.Values{}
	form.Set("mid", a.cfg.MerchantID)
	form.Set("oid", req.TransactionID)
	form.Set("price", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", req.Currency)
	form.Set("goodname", req.ProductName)
	form.Set("buyername", req.BuyerName)
	form.Set("buyeremail", req.BuyerEmail)
	form.Set("buyertel", req.BuyerPhone)
	form.Set("returnUrl", req.ReturnURL)
	form.Set("closeUrl", req.CancelURL)
	form.Set("gopaymethod", methodCodes[req.PaymentMethod])
	form.Set("timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	form.Set("signature", a.sign(req.TransactionID, req.Amount))

	raw, err := a.postForm(ctx, "/api/v1/stdpay", form)
	if err != nil {
		a.logger.Error("inicis payment request failed", "transaction_id", req.TransactionID, "error", err)
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
			GatewayTransactionID: testGatewayID(transactionID),
			Message:              "test mode inquiry",
		}
	}

	form := url.Values{}
	form.Set("mid", a.cfg.MerchantID)
	form.Set("oid", transactionID)
	form.Set("signature", a.sign(transactionID, 0))

	raw, err := a.postForm(ctx, "/api/v1/inquiry", form)
	if err != nil {
		a.logger.Error("inicis inquiry failed", "transaction_id", transactionID, "error", err)
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
	form.Set("mid", a.cfg.MerchantID)
	form.Set("oid", transactionID)
	form.Set("msg", reason)
	form.Set("signature", a.sign(transactionID, 0))

	raw, err := a.postForm(ctx, "/api/v1/cancel", form)
	if err != nil {
		a.logger.Error("inicis cancel failed", "transaction_id", transactionID, "error", err)
		return gatewaytypes.Failed(transactionID, gatewaytypes.ErrCodeCancelError, "gateway cancel failed")
	}

	if raw["resultCode"] != resultSuccess {
		return &gatewaytypes.PaymentResponse{
			Status:        transaction.StatusFailed,
			TransactionID: transactionID,
			ErrorCode:     gatewaytypes.ErrCodeCancelError,
			Message:       asString(raw["resultMsg"]),
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
	form.Set("mid", a.cfg.MerchantID)
	form.Set("oid", req.TransactionID)
	form.Set("tid", req.GatewayTransactionID)
	form.Set("price", strconv.FormatInt(req.Amount, 10))
	form.Set("msg", req.Reason)
	form.Set("signature", a.sign(req.TransactionID, req.Amount))

	raw, err := a.postForm(ctx, "/api/v1/refund", form)
	if err != nil {
		a.logger.Error("inicis refund failed", "transaction_id", req.TransactionID, "error", err)
		return &gatewaytypes.RefundResponse{
			TransactionID: req.TransactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       "gateway refund failed",
		}
	}

	if raw["resultCode"] != resultSuccess {
		return &gatewaytypes.RefundResponse{
			TransactionID: req.TransactionID,
			ErrorCode:     gatewaytypes.ErrCodeRefundError,
			Message:       asString(raw["resultMsg"]),
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

// VerifyWebhook recomputes sha256(oid + price + tid + signKey) and compares
// in constant time. Any malformed payload verifies false.
func (a *Adapter) VerifyWebhook(payload gatewaytypes.WebhookPayload, signature string) bool {
	if signature == "" {
		return false
	}
	oid := gateway.PayloadString(payload, "oid")
	price := gateway.PayloadString(payload, "price")
	tid := gateway.PayloadString(payload, "tid")
	if oid == "" || tid == "" {
		return false
	}

	sum := sha256.Sum256([]byte(oid + price + tid + a.cfg.SignKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) == 1
}

func (a *Adapter) ParseWebhookData(payload gatewaytypes.WebhookPayload) (*gatewaytypes.PaymentResponse, error) {
	oid := gateway.PayloadString(payload, "oid")
	if oid == "" {
		return nil, fmt.Errorf("inicis webhook missing oid")
	}

	resp := &gatewaytypes.PaymentResponse{
		TransactionID:        oid,
		GatewayTransactionID: gateway.PayloadString(payload, "tid"),
		ApprovalNumber:       gateway.PayloadString(payload, "applNum"),
		RawData:              payload,
	}
	if price := gateway.PayloadString(payload, "price"); price != "" {
		resp.Amount, _ = strconv.ParseInt(price, 10, 64)
	}

	switch gateway.PayloadString(payload, "resultCode") {
	case resultSuccess:
		resp.Success = true
		resp.Status = transaction.StatusCompleted
	case resultPendingDeposit:
		resp.Success = true
		resp.Status = transaction.StatusPending
	default:
		resp.Status = transaction.StatusFailed
		resp.Message = gateway.PayloadString(payload, "resultMsg")
	}
	return resp, nil
}

// sign hashes the money-relevant fields with the merchant signing key.
func (a *Adapter) sign(transactionID string, amount int64) string {
	payload := fmt.Sprintf("%s%s%d%s", a.cfg.MerchantID, transactionID, amount, a.cfg.SignKey)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func (a *Adapter) postForm(ctx context.Context, path string, form url.Values) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.APIBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

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

// mapResult converts the provider result-code table into the canonical
// four-value status set.
func (a *Adapter) mapResult(transactionID string, raw map[string]any) *gatewaytypes.PaymentResponse {
	resp := &gatewaytypes.PaymentResponse{
		TransactionID:        transactionID,
		GatewayTransactionID: asString(raw["tid"]),
		ApprovalNumber:       asString(raw["applNum"]),
		RawData:              raw,
	}
	if masked := asString(raw["cardNumber"]); masked != "" {
		resp.Card = &gatewaytypes.CardInfo{
			MaskedNumber: masked,
			CardType:     asString(raw["cardName"]),
		}
	}

	switch asString(raw["resultCode"]) {
	case resultSuccess:
		resp.Success = true
		resp.Status = transaction.StatusCompleted
		resp.Message = "payment approved"
	case resultPendingDeposit:
		resp.Success = true
		resp.Status = transaction.StatusPending
		resp.Message = "awaiting deposit"
	default:
		resp.Status = transaction.StatusFailed
		resp.Message = asString(raw["resultMsg"])
	}
	return resp
}

// testModeResponse synthesizes a deterministic approval without touching the
// network; used in local and CI runs.
func (a *Adapter) testModeResponse(req *gatewaytypes.PaymentRequest) *gatewaytypes.PaymentResponse {
	resp := &gatewaytypes.PaymentResponse{
		Success:              true,
		Status:               transaction.StatusCompleted,
		TransactionID:        req.TransactionID,
		GatewayTransactionID: testGatewayID(req.TransactionID),
		ApprovalNumber:       "AP" + shortHash(req.TransactionID),
		Amount:               req.Amount,
		Message:              "test mode approval",
	}
	if req.PaymentMethod == "card" {
		resp.Card = &gatewaytypes.CardInfo{
			MaskedNumber: gateway.MaskCardNumber("4242424242424242"),
			CardType:     "TESTCARD",
		}
	}
	return resp
}

func testGatewayID(transactionID string) string {
	return "INICIS-TEST-" + shortHash(transactionID)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
