package provision

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"contracthub/internal/catalog"
	"contracthub/internal/external"
	"contracthub/internal/types"
)

type fakeGateway struct {
	customerID string
	ensureErr  error

	setupParams external.SetupSessionParams
	setupErr    error

	instruments    []external.PaymentInstrument
	instrumentsErr error

	chargeParams external.ChargeParams
	chargeErr    error
	chargeCalls  int

	subParams external.SubscriptionParams
	subErr    error
	subCalls  int
}

func (g *fakeGateway) EnsureCustomer(_ context.Context, _ string, _ string) (string, error) {
	if g.ensureErr != nil {
		return "", g.ensureErr
	}
	return g.customerID, nil
}

func (g *fakeGateway) CreateSetupSession(_ context.Context, p external.SetupSessionParams) (string, string, error) {
	if g.setupErr != nil {
		return "", "", g.setupErr
	}
	g.setupParams = p
	return "https://checkout.test/session", "cs_test_123", nil
}

func (g *fakeGateway) ListSavedInstruments(_ context.Context, _ string) ([]external.PaymentInstrument, error) {
	if g.instrumentsErr != nil {
		return nil, g.instrumentsErr
	}
	return g.instruments, nil
}

func (g *fakeGateway) ChargeOffSession(_ context.Context, p external.ChargeParams) (string, error) {
	g.chargeCalls++
	if g.chargeErr != nil {
		return "", g.chargeErr
	}
	g.chargeParams = p
	return "pi_test_456", nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, p external.SubscriptionParams) (string, error) {
	g.subCalls++
	if g.subErr != nil {
		return "", g.subErr
	}
	g.subParams = p
	return "sub_test_789", nil
}

type fakeContracts struct {
	existing  *types.Contract
	getErr    error
	upserted  *types.Contract
	upsertErr error
}

func (f *fakeContracts) GetByCustomerRef(_ context.Context, _ string) (*types.Contract, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.existing == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundContract, "contract not found for customer", nil)
	}
	return f.existing, nil
}

func (f *fakeContracts) UpsertBySubscriptionRef(_ context.Context, c *types.Contract) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = c
	return nil
}

type fakeAlerts struct {
	kinds []string
}

func (f *fakeAlerts) Publish(_ context.Context, kind string, _ string, _ map[string]any) {
	f.kinds = append(f.kinds, kind)
}

var testNow = time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestOrchestrator(gw *fakeGateway, contracts *fakeContracts, alerts *fakeAlerts) *Orchestrator {
	seq := 0
	return New(Config{
		Gateway:   gw,
		Catalog:   catalog.New(),
		Contracts: contracts,
		Alerts:    alerts,
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
		Clock:      types.ClockFunc(func() time.Time { return testNow }),
		SuccessURL: "https://app.test/done",
		CancelURL:  "https://app.test/cancel",
	})
}

func testSelection() types.Selection {
	return types.Selection{
		PlanID:         "basic",
		HasOpenAIProxy: true,
		SelectedApps:   []string{"faq-chat-ai", "email-assistant"},
		ApplicantType:  types.ApplicantOrganization,
		Name:           "Taro Yamada",
		CompanyName:    "Example KK",
		Email:          "taro@example.com",
	}
}

func TestStartCheckout_OpensSetupSessionWithMetadata(t *testing.T) {
	gw := &fakeGateway{customerID: "cus_abc"}
	o := newTestOrchestrator(gw, &fakeContracts{}, &fakeAlerts{})

	result, err := o.StartCheckout(context.Background(), nil, testSelection())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CheckoutURL != "https://checkout.test/session" {
		t.Errorf("unexpected checkout URL %q", result.CheckoutURL)
	}
	if result.CustomerID != "cus_abc" {
		t.Errorf("unexpected customer id %q", result.CustomerID)
	}
	// basic 800 + 2 apps at 400 + proxy 200
	if result.Quote.Total != 1800 {
		t.Errorf("total = %d, want 1800", result.Quote.Total)
	}

	p := gw.setupParams
	if p.CustomerID != "cus_abc" {
		t.Errorf("session customer = %q", p.CustomerID)
	}
	if p.SuccessURL != "https://app.test/done" || p.CancelURL != "https://app.test/cancel" {
		t.Errorf("session URLs = %q / %q", p.SuccessURL, p.CancelURL)
	}

	meta, err := types.ParseCheckoutMetadata(p.Metadata)
	if err != nil {
		t.Fatalf("metadata does not round-trip: %v", err)
	}
	if meta.Total != 1800 || len(meta.SelectedApps) != 2 || !meta.HasProxy {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestStartCheckout_RejectsUnknownPlan(t *testing.T) {
	gw := &fakeGateway{customerID: "cus_abc"}
	o := newTestOrchestrator(gw, &fakeContracts{}, &fakeAlerts{})

	sel := testSelection()
	sel.PlanID = "enterprise"
	_, err := o.StartCheckout(context.Background(), nil, sel)
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationUnknownPlan {
		t.Fatalf("expected unknown plan error, got %v", err)
	}
}

func TestCompleteProvisioning_ChargesAndAnchorsSubscription(t *testing.T) {
	gw := &fakeGateway{
		customerID:  "cus_abc",
		instruments: []external.PaymentInstrument{{ID: "pm_1", Brand: "visa", Last4: "4242"}},
	}
	contracts := &fakeContracts{}
	o := newTestOrchestrator(gw, contracts, &fakeAlerts{})

	result, err := o.CompleteProvisioning(context.Background(), &types.Identity{SubjectID: "user-1"}, "cus_abc", testSelection())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ChargedAmount != 1800 {
		t.Errorf("charged = %d, want 1800", result.ChargedAmount)
	}
	if gw.chargeParams.AmountMinor != 180000 {
		t.Errorf("charge minor units = %d, want 180000", gw.chargeParams.AmountMinor)
	}
	if gw.chargeParams.InstrumentID != "pm_1" {
		t.Errorf("charged instrument = %q", gw.chargeParams.InstrumentID)
	}

	wantAnchor := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	if !gw.subParams.AnchorAt.Equal(wantAnchor) {
		t.Errorf("anchor = %v, want %v", gw.subParams.AnchorAt, wantAnchor)
	}
	if len(gw.subParams.Items) != 3 {
		t.Fatalf("got %d subscription items, want 3", len(gw.subParams.Items))
	}
	if gw.subParams.Items[0].PriceID != "price_basic_plan_800" {
		t.Errorf("plan item = %+v", gw.subParams.Items[0])
	}
	if gw.subParams.Items[1].PriceID != catalog.AppOptionPriceID || gw.subParams.Items[1].Quantity != 2 {
		t.Errorf("app item = %+v", gw.subParams.Items[1])
	}

	c := contracts.upserted
	if c == nil {
		t.Fatal("contract was not written")
	}
	if c.Status != types.ContractActive {
		t.Errorf("status = %q, want active", c.Status)
	}
	if c.StripeSubscriptionID != "sub_test_789" {
		t.Errorf("subscription ref = %q", c.StripeSubscriptionID)
	}
	if c.CurrentStorageTier != types.DefaultStorageTier {
		t.Errorf("storage tier = %q, want default", c.CurrentStorageTier)
	}
	if c.UserID != "user-1" {
		t.Errorf("user id = %q", c.UserID)
	}
}

func TestCompleteProvisioning_NoSavedInstrument(t *testing.T) {
	gw := &fakeGateway{customerID: "cus_abc"}
	o := newTestOrchestrator(gw, &fakeContracts{}, &fakeAlerts{})

	_, err := o.CompleteProvisioning(context.Background(), nil, "cus_abc", testSelection())
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationNoInstrument {
		t.Fatalf("expected missing instrument error, got %v", err)
	}
	if gw.chargeCalls != 0 {
		t.Errorf("charge should not be attempted, got %d calls", gw.chargeCalls)
	}
}

func TestCompleteProvisioning_ChargeFailureAbortsBeforeSubscription(t *testing.T) {
	gw := &fakeGateway{
		customerID:  "cus_abc",
		instruments: []external.PaymentInstrument{{ID: "pm_1"}},
		chargeErr:   types.NewAppError(types.ErrCodePaymentDeclined, "card declined", nil),
	}
	o := newTestOrchestrator(gw, &fakeContracts{}, &fakeAlerts{})

	_, err := o.CompleteProvisioning(context.Background(), nil, "cus_abc", testSelection())
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodePaymentDeclined {
		t.Fatalf("expected declined error, got %v", err)
	}
	if gw.subCalls != 0 {
		t.Errorf("subscription should not be created after declined charge, got %d calls", gw.subCalls)
	}
}

func TestCompleteProvisioning_LedgerFailureStillSucceeds(t *testing.T) {
	gw := &fakeGateway{
		customerID:  "cus_abc",
		instruments: []external.PaymentInstrument{{ID: "pm_1"}},
	}
	contracts := &fakeContracts{upsertErr: errors.New("connection refused")}
	alerts := &fakeAlerts{}
	o := newTestOrchestrator(gw, contracts, alerts)

	result, err := o.CompleteProvisioning(context.Background(), nil, "cus_abc", testSelection())
	if err != nil {
		t.Fatalf("ledger failure must not fail the call: %v", err)
	}
	if result.SubscriptionID != "sub_test_789" {
		t.Errorf("subscription id = %q", result.SubscriptionID)
	}
	if len(alerts.kinds) != 1 || alerts.kinds[0] != "ledger_write_failed" {
		t.Errorf("alerts = %v, want [ledger_write_failed]", alerts.kinds)
	}
}

func TestCompleteProvisioning_AdoptsSubscriptionWrittenByWebhook(t *testing.T) {
	gw := &fakeGateway{
		customerID:  "cus_abc",
		instruments: []external.PaymentInstrument{{ID: "pm_1"}},
	}
	contracts := &fakeContracts{existing: &types.Contract{
		ID:                   "id-existing",
		Status:               types.ContractActive,
		StripeCustomerID:     "cus_abc",
		StripeSubscriptionID: "sub_from_webhook",
	}}
	o := newTestOrchestrator(gw, contracts, &fakeAlerts{})

	result, err := o.CompleteProvisioning(context.Background(), nil, "cus_abc", testSelection())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.chargeCalls != 1 {
		t.Errorf("charge calls = %d, want 1", gw.chargeCalls)
	}
	if gw.subCalls != 0 {
		t.Errorf("a second subscription was created, calls = %d", gw.subCalls)
	}
	if result.SubscriptionID != "sub_from_webhook" {
		t.Errorf("subscription id = %q, want sub_from_webhook", result.SubscriptionID)
	}
	if contracts.upserted == nil || contracts.upserted.StripeSubscriptionID != "sub_from_webhook" {
		t.Errorf("upsert not keyed on the adopted ref: %+v", contracts.upserted)
	}
}

func TestCompleteProvisioning_ExistingContractWithoutRefStillSubscribes(t *testing.T) {
	gw := &fakeGateway{
		customerID:  "cus_abc",
		instruments: []external.PaymentInstrument{{ID: "pm_1"}},
	}
	contracts := &fakeContracts{existing: &types.Contract{
		ID:               "id-existing",
		StripeCustomerID: "cus_abc",
	}}
	o := newTestOrchestrator(gw, contracts, &fakeAlerts{})

	result, err := o.CompleteProvisioning(context.Background(), nil, "cus_abc", testSelection())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.subCalls != 1 {
		t.Errorf("subscription calls = %d, want 1", gw.subCalls)
	}
	if result.SubscriptionID != "sub_test_789" {
		t.Errorf("subscription id = %q", result.SubscriptionID)
	}
}

func TestCompleteProvisioning_LedgerLookupFailureAborts(t *testing.T) {
	gw := &fakeGateway{
		customerID:  "cus_abc",
		instruments: []external.PaymentInstrument{{ID: "pm_1"}},
	}
	contracts := &fakeContracts{getErr: types.NewAppError(types.ErrCodeInternalDB, "query failed", nil)}
	o := newTestOrchestrator(gw, contracts, &fakeAlerts{})

	_, err := o.CompleteProvisioning(context.Background(), nil, "cus_abc", testSelection())
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeInternalDB {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if gw.subCalls != 0 {
		t.Errorf("subscription should not be created when the ledger is unreadable, got %d calls", gw.subCalls)
	}
}
