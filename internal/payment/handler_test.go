package payment_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	gatewaytypes "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
	"github.com/frahmantamala/payment-orchestration/internal/core/events"
	"github.com/frahmantamala/payment-orchestration/internal/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/payment"
	"github.com/frahmantamala/payment-orchestration/internal/transport"
)

var _ = Describe("Payment Handler Integration", func() {
	var (
		repo      *mockRepo
		gw        *fakeGateway
		ord       *fakeOrder
		orderRepo *fakeOrderRepo
		svc       *payment.Service
		router    *chi.Mux
	)

	const gatewayName = "mockpay"

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

		repo = newMockRepo()
		gw = &fakeGateway{
			name: gatewayName,
			processResp: &gatewaytypes.PaymentResponse{
				Success:              true,
				Status:               transaction.StatusCompleted,
				GatewayTransactionID: "GW-001",
			},
			statusResp: &gatewaytypes.PaymentResponse{Success: true, Status: transaction.StatusCompleted},
			cancelResp: &gatewaytypes.PaymentResponse{Success: true, Status: transaction.StatusCancelled},
			refundResp: &gatewaytypes.RefundResponse{Success: true},
			verifyOK:   true,
		}
		registry := gateway.NewRegistry(logger, gw)

		ord = &fakeOrder{id: "ORD-1001", payable: true}
		orderRepo = &fakeOrderRepo{orders: map[string]*fakeOrder{"ORD-1001": ord}}

		bus := events.NewEventBus(logger)
		svc = payment.NewService(repo, registry, orderRepo, bus, logger, "https://shop/return", "https://shop/cancel")

		handler := payment.NewHandler(svc, orderRepo, registry, logger)
		webhookHandler := payment.NewWebhookHandler(&transport.BaseHandler{Logger: logger}, svc, logger)

		router = chi.NewRouter()
		router.Post("/api/v1/payments", handler.ProcessPayment)
		router.Get("/api/v1/payments/methods", handler.GetPaymentMethods)
		router.Get("/api/v1/payments/{transactionID}", handler.GetPayment)
		router.Post("/api/v1/payments/{transactionID}/cancel", handler.CancelPayment)
		router.Post("/api/v1/payments/{transactionID}/refund", handler.RefundPayment)
		router.Post("/api/v1/payments/{transactionID}/retry", handler.RetryPayment)
		router.Get("/api/v1/orders/{orderID}/payments", handler.ListOrderPayments)
		router.Post("/api/v1/webhooks/{gateway}", webhookHandler.HandleGatewayWebhook)
	})

	doJSON := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("POST /payments", func() {
		It("processes a payment with an explicit gateway", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments",
				`{"order_id":"ORD-1001","gateway":"mockpay","payment_method":"card","amount":10000}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(ContainSubstring("application/json"))

			var resp gatewaytypes.PaymentResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Status).To(Equal(transaction.StatusCompleted))
			Expect(repo.count()).To(Equal(1))
		})

		It("selects the cheapest gateway when none is named", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments",
				`{"order_id":"ORD-1001","payment_method":"card","amount":10000}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(gw.processCalls).To(Equal(1))
		})

		It("rejects an unparseable body", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments", `{not json`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a request without an order id", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments",
				`{"payment_method":"card","amount":10000}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(repo.count()).To(BeZero())
		})

		It("rejects a non-positive amount", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments",
				`{"order_id":"ORD-1001","payment_method":"card","amount":0}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns not found for an unknown order", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments",
				`{"order_id":"ORD-missing","payment_method":"card","amount":10000}`)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("rejects a method no gateway offers", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments",
				`{"order_id":"ORD-1001","payment_method":"crypto","amount":10000}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("treats a gateway decline as a successful API call", func() {
			gw.processResp = &gatewaytypes.PaymentResponse{
				Status:  transaction.StatusFailed,
				Message: "card limit exceeded",
			}

			w := doJSON(http.MethodPost, "/api/v1/payments",
				`{"order_id":"ORD-1001","gateway":"mockpay","payment_method":"card","amount":10000}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp gatewaytypes.PaymentResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Message).To(Equal("card limit exceeded"))
		})
	})

	Describe("transaction operations", func() {
		var txID string

		BeforeEach(func() {
			resp := svc.ProcessPayment(context.Background(), ord, gatewayName, "card", payment.ProcessOptions{
				Amount:   10000,
				Currency: "KRW",
			})
			txID = resp.TransactionID
		})

		It("returns the reconciled payment on GET", func() {
			w := doJSON(http.MethodGet, "/api/v1/payments/"+txID, "")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp gatewaytypes.PaymentResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.Status).To(Equal(transaction.StatusCompleted))
		})

		It("returns 404 for an unknown transaction", func() {
			w := doJSON(http.MethodGet, "/api/v1/payments/TXN-missing", "")
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("cancels with a reason", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments/"+txID+"/cancel",
				`{"reason":"duplicate order"}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(repo.row(txID).Status).To(Equal(transaction.StatusCancelled))
		})

		It("requires a cancel reason", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments/"+txID+"/cancel", `{}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("maps a cancel conflict to 409", func() {
			gw.processResp = &gatewaytypes.PaymentResponse{Status: transaction.StatusFailed, Message: "declined"}
			failed := svc.ProcessPayment(context.Background(), ord, gatewayName, "card", payment.ProcessOptions{
				Amount:   10000,
				Currency: "KRW",
			})

			w := doJSON(http.MethodPost, "/api/v1/payments/"+failed.TransactionID+"/cancel",
				`{"reason":"too late"}`)
			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("refunds part of a completed payment", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments/"+txID+"/refund",
				`{"amount":4000,"reason":"partial return"}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(repo.row(txID).RefundAmount).To(Equal(int64(4000)))
		})

		It("maps an over-refund to 409", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments/"+txID+"/refund",
				`{"amount":20000,"reason":"too much"}`)
			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("rejects a refund without a positive amount", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments/"+txID+"/refund",
				`{"amount":0,"reason":"nothing"}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("lists the order's attempt history", func() {
			w := doJSON(http.MethodGet, "/api/v1/orders/ORD-1001/payments", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp []payment.TransactionResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp).To(HaveLen(1))
			Expect(resp[0].TransactionID).To(Equal(txID))
			Expect(resp[0].Status).To(Equal("completed"))
		})

		It("returns an empty list for an order with no attempts", func() {
			w := doJSON(http.MethodGet, "/api/v1/orders/ORD-empty/payments", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp []payment.TransactionResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp).To(BeEmpty())
		})

		It("maps a retry on a non-failed transaction to 409", func() {
			w := doJSON(http.MethodPost, "/api/v1/payments/"+txID+"/retry", "")
			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("retries a failed transaction", func() {
			gw.processResp = &gatewaytypes.PaymentResponse{Status: transaction.StatusFailed, Message: "outage"}
			failed := svc.ProcessPayment(context.Background(), ord, gatewayName, "card", payment.ProcessOptions{
				Amount:   10000,
				Currency: "KRW",
			})
			gw.processResp = &gatewaytypes.PaymentResponse{Success: true, Status: transaction.StatusCompleted}

			w := doJSON(http.MethodPost, "/api/v1/payments/"+failed.TransactionID+"/retry", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp gatewaytypes.PaymentResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.TransactionID).NotTo(Equal(failed.TransactionID))
			Expect(repo.row(failed.TransactionID).RetryCount).To(Equal(1))
		})
	})

	Describe("GET /payments/methods", func() {
		It("lists methods with the cheapest gateway for the amount", func() {
			w := doJSON(http.MethodGet, "/api/v1/payments/methods?amount=10000", "")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp payment.MethodsResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.Amount).To(Equal(int64(10000)))
			Expect(resp.Methods).To(HaveLen(1))
			Expect(resp.Methods[0].Method).To(Equal("card"))
			Expect(resp.Methods[0].Gateways).To(ConsistOf(gatewayName))
			Expect(resp.Methods[0].Recommended).To(Equal(gatewayName))
		})

		It("rejects a malformed amount", func() {
			w := doJSON(http.MethodGet, "/api/v1/payments/methods?amount=ten", "")
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /webhooks/{gateway}", func() {
		BeforeEach(func() {
			gw.parseResp = &gatewaytypes.PaymentResponse{
				Success:       true,
				Status:        transaction.StatusCompleted,
				TransactionID: "TXN-orphan",
			}
		})

		It("accepts a signed JSON notification", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mockpay",
				strings.NewReader(`{"oid":"TXN-orphan","resultCode":"0000"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Signature", "sig")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp payment.WebhookResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.Status).To(Equal("ok"))
		})

		It("accepts a form-encoded notification", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mockpay",
				strings.NewReader("oid=TXN-orphan&resultCode=0000&price=10000"))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("X-Signature", "sig")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("rejects a malformed body", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mockpay",
				strings.NewReader(`{not json`))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			var resp payment.WebhookResponse
			Expect(json.NewDecoder(w.Body).Decode(&resp)).To(Succeed())
			Expect(resp.Status).To(Equal("error"))
		})

		It("rejects a notification that fails verification", func() {
			gw.verifyOK = false

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mockpay",
				strings.NewReader(`{"oid":"TXN-orphan"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Signature", "bad")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
