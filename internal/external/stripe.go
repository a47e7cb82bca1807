package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"contracthub/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient is the billing gateway, implemented as direct HTTP calls to
// the Stripe REST API through BaseClient. This routes all requests through
// the platform's resilience infrastructure (circuit breaker, retries, error
// mapping) and makes testing with httptest straightforward.
//
// Monetary amounts cross this boundary in minor units only; conversion from
// the catalog's major-unit prices happens in the billing package before any
// parameter reaches this client.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a new StripeClient.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"ContractHub/1.0",
	)

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// EnsureCustomer retrieves or creates a Stripe customer for the given email.
// Uses search-first logic to prevent duplicate customers when a visitor
// abandons and restarts checkout:
//  1. Query the Stripe Search API for an email match
//  2. If found, return the existing customer ID
//  3. If not found, create a new customer
func (s *StripeClient) EnsureCustomer(ctx context.Context, email string, name string) (string, error) {
	searchQuery := fmt.Sprintf("email:'%s'", email)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		return searchResult.Data[0].ID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("name", name)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	return customer.ID, nil
}

// ---------------------------------------------------------------------------
// Checkout Sessions
// ---------------------------------------------------------------------------

// SetupSessionParams describes a hosted instrument-capture page. The session
// runs in setup mode: the customer enters a card but pays nothing on the
// hosted page. The actual charge happens off-session afterwards.
type SetupSessionParams struct {
	CustomerID string
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
}

// CreateSetupSession generates a hosted setup page URL for capturing a
// reusable payment instrument. The metadata travels with the session and
// comes back on the completion webhook, which is what lets reconciliation
// re-derive the whole provisioning from billing-side data alone.
func (s *StripeClient) CreateSetupSession(ctx context.Context, p SetupSessionParams) (setupURL string, sessionID string, err error) {
	params := url.Values{}
	params.Set("mode", "setup")
	params.Set("customer", p.CustomerID)
	params.Set("payment_method_types[0]", "card")
	params.Set("success_url", p.SuccessURL)
	params.Set("cancel_url", p.CancelURL)

	for k, v := range p.Metadata {
		params.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateSetupSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateSetupSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe setup session response",
			err,
		)
	}

	return session.URL, session.ID, nil
}

// CheckoutLine is a single ad-hoc line item on a hosted checkout page.
// AmountMinor is the per-unit price in the currency's minor units.
type CheckoutLine struct {
	Name        string
	AmountMinor int64
	Quantity    int
}

// CheckoutSessionParams describes a hosted payment page for a one-off
// purchase, used by the add-on fallback when the customer has no saved
// instrument. The instrument entered on the page is saved for later
// off-session charges.
type CheckoutSessionParams struct {
	CustomerID string
	Currency   string
	Lines      []CheckoutLine
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
}

// CreateCheckoutSession generates a hosted payment page URL with the given
// line items. The metadata comes back on the completion webhook so the
// reconciler can apply the purchase to the ledger.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (checkoutURL string, sessionID string, err error) {
	params := url.Values{}
	params.Set("customer", p.CustomerID)
	params.Set("mode", "payment")
	params.Set("payment_intent_data[setup_future_usage]", "off_session")
	params.Set("success_url", p.SuccessURL)
	params.Set("cancel_url", p.CancelURL)

	for i, line := range p.Lines {
		prefix := fmt.Sprintf("line_items[%d]", i)
		params.Set(prefix+"[price_data][currency]", p.Currency)
		params.Set(prefix+"[price_data][product_data][name]", line.Name)
		params.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(line.AmountMinor, 10))
		params.Set(prefix+"[quantity]", strconv.Itoa(line.Quantity))
	}

	for k, v := range p.Metadata {
		params.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.URL, session.ID, nil
}

// ---------------------------------------------------------------------------
// Payment Instruments and Off-Session Charges
// ---------------------------------------------------------------------------

// PaymentInstrument is a saved card on a billing customer.
type PaymentInstrument struct {
	ID    string
	Brand string
	Last4 string
}

// ListSavedInstruments returns the customer's saved card instruments, most
// recently attached first.
func (s *StripeClient) ListSavedInstruments(ctx context.Context, customerID string) ([]PaymentInstrument, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("type", "card")

	resp, err := s.doGet(ctx, "/v1/payment_methods", params)
	if err != nil {
		return nil, s.wrapStripeError("ListSavedInstruments", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "ListSavedInstruments")
	}

	var list stripePaymentMethodList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe payment methods response",
			err,
		)
	}

	instruments := make([]PaymentInstrument, 0, len(list.Data))
	for _, pm := range list.Data {
		inst := PaymentInstrument{ID: pm.ID}
		if pm.Card != nil {
			inst.Brand = pm.Card.Brand
			inst.Last4 = pm.Card.Last4
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

// ChargeParams describes an immediate off-session charge against a saved
// instrument. AmountMinor is in the currency's minor units.
type ChargeParams struct {
	CustomerID   string
	InstrumentID string
	AmountMinor  int64
	Currency     string
	Description  string
	Metadata     map[string]string
}

// ChargeOffSession creates and confirms a PaymentIntent against a saved
// instrument without the customer present. Card declines come back as
// ErrCodePaymentDeclined with the provider's decline code in the details.
func (s *StripeClient) ChargeOffSession(ctx context.Context, p ChargeParams) (paymentIntentID string, err error) {
	params := url.Values{}
	params.Set("customer", p.CustomerID)
	params.Set("payment_method", p.InstrumentID)
	params.Set("amount", strconv.FormatInt(p.AmountMinor, 10))
	params.Set("currency", p.Currency)
	params.Set("off_session", "true")
	params.Set("confirm", "true")
	if p.Description != "" {
		params.Set("description", p.Description)
	}
	for k, v := range p.Metadata {
		params.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	resp, err := s.doPost(ctx, "/v1/payment_intents", params)
	if err != nil {
		return "", s.wrapStripeError("ChargeOffSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "ChargeOffSession")
	}

	var intent stripePaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe payment intent response",
			err,
		)
	}

	return intent.ID, nil
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// SubscriptionItem is a recurring price with a quantity.
type SubscriptionItem struct {
	PriceID  string
	Quantity int
}

// SubscriptionParams describes a recurring subscription.
type SubscriptionParams struct {
	CustomerID   string
	InstrumentID string
	Items        []SubscriptionItem
	AnchorAt     time.Time
	Metadata     map[string]string
}

// CreateSubscription creates a recurring subscription anchored at AnchorAt
// with proration disabled. The interval between now and the anchor has
// already been charged as a one-off, so Stripe must not bill it again.
func (s *StripeClient) CreateSubscription(ctx context.Context, p SubscriptionParams) (subscriptionID string, err error) {
	params := url.Values{}
	params.Set("customer", p.CustomerID)
	params.Set("billing_cycle_anchor", strconv.FormatInt(p.AnchorAt.Unix(), 10))
	params.Set("proration_behavior", "none")
	if p.InstrumentID != "" {
		params.Set("default_payment_method", p.InstrumentID)
	}

	for i, item := range p.Items {
		prefix := fmt.Sprintf("items[%d]", i)
		params.Set(prefix+"[price]", item.PriceID)
		if item.Quantity > 1 {
			params.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
		}
	}

	for k, v := range p.Metadata {
		params.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	resp, err := s.doPost(ctx, "/v1/subscriptions", params)
	if err != nil {
		return "", s.wrapStripeError("CreateSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreateSubscription")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription response",
			err,
		)
	}

	return sub.ID, nil
}

// ---------------------------------------------------------------------------
// Billing Portal and Payment History
// ---------------------------------------------------------------------------

// CreatePortalSession generates a Stripe Billing Portal URL where the
// customer manages their instrument and sees invoices.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID string, returnURL string) (portalURL string, err error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe portal session response",
			err,
		)
	}

	return session.URL, nil
}

// PaymentKind distinguishes the two sources a payment history entry can come
// from: one-off PaymentIntents and recurring subscription invoices.
type PaymentKind string

const (
	PaymentKindIntent  PaymentKind = "payment_intent"
	PaymentKindInvoice PaymentKind = "invoice"
)

// Payment is one entry of a customer's payment history, served to API
// clients as-is. AmountMinor is the provider-reported amount in minor units.
type Payment struct {
	ID          string      `json:"id"`
	Kind        PaymentKind `json:"kind"`
	AmountMinor int64       `json:"amount_minor"`
	Currency    string      `json:"currency"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	Description string      `json:"description,omitempty"`
	ReceiptURL  string      `json:"receipt_url,omitempty"`
}

// ListPaymentIntents returns the customer's one-off charges, newest first.
func (s *StripeClient) ListPaymentIntents(ctx context.Context, customerID string, limit int) ([]Payment, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("limit", strconv.Itoa(limit))

	resp, err := s.doGet(ctx, "/v1/payment_intents", params)
	if err != nil {
		return nil, s.wrapStripeError("ListPaymentIntents", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "ListPaymentIntents")
	}

	var list stripePaymentIntentList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe payment intents response",
			err,
		)
	}

	payments := make([]Payment, 0, len(list.Data))
	for _, pi := range list.Data {
		payments = append(payments, Payment{
			ID:          pi.ID,
			Kind:        PaymentKindIntent,
			AmountMinor: pi.Amount,
			Currency:    pi.Currency,
			Status:      pi.Status,
			CreatedAt:   time.Unix(pi.Created, 0).UTC(),
			Description: pi.Description,
		})
	}
	return payments, nil
}

// ListPaidInvoices returns the customer's settled subscription invoices,
// newest first.
func (s *StripeClient) ListPaidInvoices(ctx context.Context, customerID string, limit int) ([]Payment, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("status", "paid")
	params.Set("limit", strconv.Itoa(limit))

	resp, err := s.doGet(ctx, "/v1/invoices", params)
	if err != nil {
		return nil, s.wrapStripeError("ListPaidInvoices", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "ListPaidInvoices")
	}

	var list stripeInvoiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe invoices response",
			err,
		)
	}

	payments := make([]Payment, 0, len(list.Data))
	for _, inv := range list.Data {
		payments = append(payments, Payment{
			ID:          inv.ID,
			Kind:        PaymentKindInvoice,
			AmountMinor: inv.AmountPaid,
			Currency:    inv.Currency,
			Status:      inv.Status,
			CreatedAt:   time.Unix(inv.Created, 0).UTC(),
			Description: inv.Description,
			ReceiptURL:  inv.InvoicePDF,
		})
	}
	return payments, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST request to the Stripe API with
// form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and content headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a
// types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error into a types.AppError.
func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	// Declines (card_declined, insufficient_funds, authentication_required)
	// surface as a payment error the UI can act on.
	if stripeErr.Code == "card_declined" ||
		stripeErr.Code == "authentication_required" ||
		stripeErr.DeclineCode != "" {
		declineCode := stripeErr.DeclineCode
		if declineCode == "" {
			declineCode = stripeErr.Code
		}
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": declineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message),
			nil,
		)
	case statusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundCustomer,
			fmt.Sprintf("%s: Stripe resource not found: %s", operation, stripeErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// AppErrors from BaseClient (circuit breaker, retries exhausted) already
	// carry the right error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type stripeSearchResult struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePaymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripePaymentMethod struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Card *stripeCardInfo `json:"card"`
}

type stripeCardInfo struct {
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	Brand    string `json:"brand"`
}

type stripePaymentMethodList struct {
	Data    []stripePaymentMethod `json:"data"`
	HasMore bool                  `json:"has_more"`
}

type stripeSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePaymentIntentDetail struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Created     int64  `json:"created"`
	Description string `json:"description"`
}

type stripePaymentIntentList struct {
	Data    []stripePaymentIntentDetail `json:"data"`
	HasMore bool                        `json:"has_more"`
}

type stripeInvoice struct {
	ID          string `json:"id"`
	AmountPaid  int64  `json:"amount_paid"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Created     int64  `json:"created"`
	Description string `json:"description"`
	InvoicePDF  string `json:"invoice_pdf"`
}

type stripeInvoiceList struct {
	Data    []stripeInvoice `json:"data"`
	HasMore bool            `json:"has_more"`
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// StripeVerifier implements webhook signature verification using stripe-go's
// HMAC-SHA256 check with timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header
// and signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
