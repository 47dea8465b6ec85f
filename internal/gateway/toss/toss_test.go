package toss_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	gatewaytypes "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
	"github.com/frahmantamala/payment-orchestration/internal/gateway/toss"
)

func TestToss(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Toss Adapter Suite")
}

func tossWebhookSignature(secret, orderID, paymentKey, amount string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s:%s", orderID, paymentKey, amount)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("Toss Adapter", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	})

	Describe("configuration", func() {
		It("reports its canonical name", func() {
			adapter := toss.New(toss.Config{}, logger)
			Expect(adapter.Name()).To(Equal("toss"))
		})

		It("requires both merchant id and secret key", func() {
			Expect(toss.New(toss.Config{SecretKey: "sk"}, logger).ValidateConfig()).To(BeFalse())
			Expect(toss.New(toss.Config{MerchantID: "m"}, logger).ValidateConfig()).To(BeFalse())
			Expect(toss.New(toss.Config{MerchantID: "m", SecretKey: "sk"}, logger).ValidateConfig()).To(BeTrue())
		})

		It("does not offer bank transfer", func() {
			methods := toss.New(toss.Config{}, logger).SupportedMethods()
			Expect(methods).To(HaveKey("card"))
			Expect(methods).To(HaveKey("mobile"))
			Expect(methods).NotTo(HaveKey("bank"))
		})
	})

	Describe("test mode", func() {
		It("approves with a deterministic payment key", func() {
			adapter := toss.New(toss.Config{MerchantID: "m", SecretKey: "sk", TestMode: true}, logger)
			req := &gatewaytypes.PaymentRequest{
				TransactionID: "TXN-ORD-2001-abc",
				Amount:        25000,
				PaymentMethod: "card",
			}

			first := adapter.ProcessPayment(context.Background(), req)
			second := adapter.ProcessPayment(context.Background(), req)

			Expect(first.Success).To(BeTrue())
			Expect(first.Status).To(Equal(transaction.StatusCompleted))
			Expect(first.GatewayTransactionID).To(HavePrefix("toss-test-"))
			Expect(first.GatewayTransactionID).To(Equal(second.GatewayTransactionID))
			Expect(first.Card).NotTo(BeNil())
		})
	})

	Describe("live payment requests", func() {
		var (
			server  *httptest.Server
			adapter *toss.Adapter
			result  map[string]any
			lastReq struct {
				path string
				auth string
				body map[string]any
			}
		)

		BeforeEach(func() {
			result = map[string]any{
				"paymentKey":     "tviva20260829abc",
				"orderId":        "TXN-ORD-2001-abc",
				"status":         "DONE",
				"approvalNumber": "00012345",
				"totalAmount":    25000,
			}
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				lastReq.path = r.URL.Path
				lastReq.auth = r.Header.Get("Authorization")
				lastReq.body = nil
				if r.Body != nil {
					_ = json.NewDecoder(r.Body).Decode(&lastReq.body)
				}
				Expect(json.NewEncoder(w).Encode(result)).To(Succeed())
			}))
			adapter = toss.New(toss.Config{
				MerchantID: "merchant-1",
				SecretKey:  "sk_test_secret",
				APIBaseURL: server.URL,
				Timeout:    5 * time.Second,
			}, logger)
		})

		AfterEach(func() {
			server.Close()
		})

		It("posts the signed JSON body and maps DONE to completed", func() {
			resp := adapter.ProcessPayment(context.Background(), &gatewaytypes.PaymentRequest{
				TransactionID: "TXN-ORD-2001-abc",
				Amount:        25000,
				Currency:      "KRW",
				PaymentMethod: "card",
				ProductName:   "Premium Plan",
			})

			Expect(resp.Success).To(BeTrue())
			Expect(resp.Status).To(Equal(transaction.StatusCompleted))
			Expect(resp.GatewayTransactionID).To(Equal("tviva20260829abc"))
			Expect(resp.Amount).To(Equal(int64(25000)))

			Expect(lastReq.path).To(Equal("/v1/payments"))
			Expect(lastReq.auth).To(Equal("Basic sk_test_secret"))
			Expect(lastReq.body["orderId"]).To(Equal("TXN-ORD-2001-abc"))
			Expect(lastReq.body["signature"]).To(HaveLen(64))
		})

		It("maps provider status strings onto the canonical set", func() {
			cases := map[string]transaction.Status{
				"WAITING_FOR_DEPOSIT": transaction.StatusPending,
				"READY":               transaction.StatusPending,
				"IN_PROGRESS":         transaction.StatusProcessing,
				"ABORTED":             transaction.StatusFailed,
				"EXPIRED":             transaction.StatusFailed,
				"SOMETHING_NEW":       transaction.StatusFailed,
			}
			for provider, want := range cases {
				result["status"] = provider
				resp := adapter.GetPaymentStatus(context.Background(), "TXN-ORD-2001-abc")
				Expect(resp.Status).To(Equal(want), "provider status %s", provider)
			}
		})

		It("carries the failure message on an aborted payment", func() {
			result["status"] = "ABORTED"
			result["failure"] = map[string]any{"code": "REJECT_CARD_COMPANY", "message": "declined by issuer"}

			resp := adapter.ProcessPayment(context.Background(), &gatewaytypes.PaymentRequest{
				TransactionID: "TXN-ORD-2001-abc",
				Amount:        25000,
				Currency:      "KRW",
				PaymentMethod: "card",
			})
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Message).To(Equal("declined by issuer"))
		})

		It("treats only CANCELED as a successful cancel", func() {
			result["status"] = "CANCELED"
			resp := adapter.CancelPayment(context.Background(), "TXN-ORD-2001-abc", "customer request")
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Status).To(Equal(transaction.StatusCancelled))
			Expect(lastReq.path).To(Equal("/v1/payments/cancel"))

			result["status"] = "DONE"
			resp = adapter.CancelPayment(context.Background(), "TXN-ORD-2001-abc", "customer request")
			Expect(resp.Success).To(BeFalse())
			Expect(resp.ErrorCode).To(Equal(gatewaytypes.ErrCodeCancelError))
		})

		It("refunds through the payment key route", func() {
			result["status"] = "CANCELED"
			resp := adapter.RefundPayment(context.Background(), &gatewaytypes.RefundRequest{
				TransactionID:        "TXN-ORD-2001-abc",
				GatewayTransactionID: "tviva20260829abc",
				Amount:               10000,
				Reason:               "partial return",
			})
			Expect(resp.Success).To(BeTrue())
			Expect(resp.RefundedAmount).To(Equal(int64(10000)))
			Expect(lastReq.path).To(Equal("/v1/payments/tviva20260829abc/cancel"))
		})

		It("surfaces a provider refund failure", func() {
			result["failure"] = map[string]any{"code": "NOT_CANCELABLE_AMOUNT", "message": "exceeds refundable amount"}
			resp := adapter.RefundPayment(context.Background(), &gatewaytypes.RefundRequest{
				TransactionID:        "TXN-ORD-2001-abc",
				GatewayTransactionID: "tviva20260829abc",
				Amount:               999999,
			})
			Expect(resp.Success).To(BeFalse())
			Expect(resp.ErrorCode).To(Equal(gatewaytypes.ErrCodeRefundError))
			Expect(resp.Message).To(Equal("exceeds refundable amount"))
		})

		It("returns an API error when the provider is unreachable", func() {
			server.Close()
			resp := adapter.ProcessPayment(context.Background(), &gatewaytypes.PaymentRequest{
				TransactionID: "TXN-ORD-2001-abc",
				Amount:        25000,
				Currency:      "KRW",
				PaymentMethod: "card",
			})
			Expect(resp.ErrorCode).To(Equal(gatewaytypes.ErrCodeAPIError))
		})
	})

	Describe("webhook verification", func() {
		var adapter *toss.Adapter

		BeforeEach(func() {
			adapter = toss.New(toss.Config{MerchantID: "merchant-1", SecretKey: "sk_test_secret"}, logger)
		})

		It("accepts a correctly signed notification", func() {
			payload := gatewaytypes.WebhookPayload{
				"orderId":     "TXN-ORD-2001-abc",
				"paymentKey":  "tviva20260829abc",
				"totalAmount": "25000",
				"status":      "DONE",
			}
			sig := tossWebhookSignature("sk_test_secret", "TXN-ORD-2001-abc", "tviva20260829abc", "25000")
			Expect(adapter.VerifyWebhook(payload, sig)).To(BeTrue())
		})

		It("rejects a signature built with another secret", func() {
			payload := gatewaytypes.WebhookPayload{
				"orderId":     "TXN-ORD-2001-abc",
				"paymentKey":  "tviva20260829abc",
				"totalAmount": "25000",
			}
			sig := tossWebhookSignature("other-secret", "TXN-ORD-2001-abc", "tviva20260829abc", "25000")
			Expect(adapter.VerifyWebhook(payload, sig)).To(BeFalse())
		})

		It("rejects payloads missing the payment key", func() {
			sig := tossWebhookSignature("sk_test_secret", "TXN-ORD-2001-abc", "", "25000")
			Expect(adapter.VerifyWebhook(gatewaytypes.WebhookPayload{
				"orderId":     "TXN-ORD-2001-abc",
				"totalAmount": "25000",
			}, sig)).To(BeFalse())
		})

		It("rejects an empty signature", func() {
			Expect(adapter.VerifyWebhook(gatewaytypes.WebhookPayload{
				"orderId":    "TXN-ORD-2001-abc",
				"paymentKey": "tviva20260829abc",
			}, "")).To(BeFalse())
		})
	})

	Describe("webhook parsing", func() {
		var adapter *toss.Adapter

		BeforeEach(func() {
			adapter = toss.New(toss.Config{MerchantID: "merchant-1", SecretKey: "sk"}, logger)
		})

		It("maps DONE to a completed response", func() {
			resp, err := adapter.ParseWebhookData(gatewaytypes.WebhookPayload{
				"orderId":     "TXN-ORD-2001-abc",
				"paymentKey":  "tviva20260829abc",
				"totalAmount": "25000",
				"status":      "DONE",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Status).To(Equal(transaction.StatusCompleted))
			Expect(resp.GatewayTransactionID).To(Equal("tviva20260829abc"))
			Expect(resp.Amount).To(Equal(int64(25000)))
		})

		It("maps deposit wait to pending and CANCELED to cancelled", func() {
			pending, err := adapter.ParseWebhookData(gatewaytypes.WebhookPayload{
				"orderId": "TXN-ORD-2001-abc",
				"status":  "WAITING_FOR_DEPOSIT",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(pending.Status).To(Equal(transaction.StatusPending))

			cancelled, err := adapter.ParseWebhookData(gatewaytypes.WebhookPayload{
				"orderId": "TXN-ORD-2001-abc",
				"status":  "CANCELED",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(cancelled.Status).To(Equal(transaction.StatusCancelled))
		})

		It("maps unknown provider statuses to failed with the failure message", func() {
			resp, err := adapter.ParseWebhookData(gatewaytypes.WebhookPayload{
				"orderId":        "TXN-ORD-2001-abc",
				"status":         "PARTIAL_CANCELED",
				"failureMessage": "unsupported state",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Status).To(Equal(transaction.StatusFailed))
			Expect(resp.Message).To(Equal("unsupported state"))
		})

		It("fails on a payload without the order reference", func() {
			_, err := adapter.ParseWebhookData(gatewaytypes.WebhookPayload{"status": "DONE"})
			Expect(err).To(HaveOccurred())
		})
	})
})
