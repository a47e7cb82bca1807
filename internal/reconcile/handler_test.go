package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"contracthub/internal/catalog"
	"contracthub/internal/external"
	"contracthub/internal/metrics"
	"contracthub/internal/types"
)

type fakeUsers struct {
	byEmail map[string]*types.User
	created []*types.User
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*types.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (f *fakeUsers) Create(_ context.Context, u *types.User) error {
	if _, ok := f.byEmail[u.Email]; ok {
		return types.NewAppError(types.ErrCodeConflictEmail, "email already registered", nil)
	}
	if f.byEmail == nil {
		f.byEmail = map[string]*types.User{}
	}
	f.byEmail[u.Email] = u
	f.created = append(f.created, u)
	return nil
}

type fakeContracts struct {
	byCustomer map[string]*types.Contract
	upserted   []*types.Contract
	knownIDs   map[string]bool
	mergedApps map[string][]string
	mergeCalls int
}

func (f *fakeContracts) GetByCustomerRef(_ context.Context, customerID string) (*types.Contract, error) {
	if c, ok := f.byCustomer[customerID]; ok {
		return c, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundContract, "contract not found for customer", nil)
}

func (f *fakeContracts) UpsertBySubscriptionRef(_ context.Context, c *types.Contract) error {
	f.upserted = append(f.upserted, c)
	return nil
}

func (f *fakeContracts) MergeApps(_ context.Context, contractID string, apps []string) error {
	f.mergeCalls++
	if !f.knownIDs[contractID] {
		return types.NewAppError(types.ErrCodeNotFoundContract, "contract not found", nil)
	}
	if f.mergedApps == nil {
		f.mergedApps = map[string][]string{}
	}
	f.mergedApps[contractID] = append(f.mergedApps[contractID], apps...)
	return nil
}

type fakeEvents struct {
	seen map[string]bool
}

func (f *fakeEvents) Record(_ context.Context, ev *types.BillingEvent) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[ev.ID] {
		return false, nil
	}
	f.seen[ev.ID] = true
	return true, nil
}

type fakeGateway struct {
	subParams external.SubscriptionParams
	subCalls  int
}

func (g *fakeGateway) CreateSubscription(_ context.Context, p external.SubscriptionParams) (string, error) {
	g.subCalls++
	g.subParams = p
	return "sub_reconciled", nil
}

type fakeAlerts struct {
	kinds []string
}

func (f *fakeAlerts) Publish(_ context.Context, kind string, _ string, _ map[string]any) {
	f.kinds = append(f.kinds, kind)
}

type fakeMetrics struct {
	results map[string]int
}

func (f *fakeMetrics) RecordEvent(_ context.Context, _ string, result string) {
	if f.results == nil {
		f.results = map[string]int{}
	}
	f.results[result]++
}

var testNow = time.Date(2025, 6, 20, 8, 0, 0, 0, time.UTC)

type handlerFixture struct {
	handler   *Handler
	users     *fakeUsers
	contracts *fakeContracts
	events    *fakeEvents
	gateway   *fakeGateway
	alerts    *fakeAlerts
	metrics   *fakeMetrics
}

func newFixture() *handlerFixture {
	f := &handlerFixture{
		users:     &fakeUsers{},
		contracts: &fakeContracts{knownIDs: map[string]bool{}},
		events:    &fakeEvents{},
		gateway:   &fakeGateway{},
		alerts:    &fakeAlerts{},
		metrics:   &fakeMetrics{},
	}
	seq := 0
	f.handler = NewHandler(HandlerConfig{
		Users:     f.users,
		Contracts: f.contracts,
		Events:    f.events,
		Gateway:   f.gateway,
		Catalog:   catalog.New(),
		Alerts:    f.alerts,
		Metrics:   f.metrics,
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
		Clock: types.ClockFunc(func() time.Time { return testNow }),
	})
	return f
}

func eventPayload(t *testing.T, id string, eventType string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   id,
		"type": eventType,
		"data": map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func checkoutMeta() map[string]string {
	return types.CheckoutMetadata{
		PlanID:        "basic",
		ApplicantType: types.ApplicantIndividual,
		CustomerName:  "Taro Yamada",
		CustomerEmail: "taro@example.com",
		HasProxy:      true,
		SelectedApps:  []string{"faq-chat-ai", "email-assistant"},
		Total:         1800,
	}.Encode()
}

func TestProcess_NewSubscription_CreatesUserAndContract(t *testing.T) {
	f := newFixture()
	payload := eventPayload(t, "evt_1", EventCheckoutCompleted, map[string]any{
		"id":           "cs_1",
		"customer":     "cus_abc",
		"subscription": "",
		"metadata":     checkoutMeta(),
	})

	if err := f.handler.Process(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.users.created) != 1 {
		t.Fatalf("created %d users, want 1", len(f.users.created))
	}
	u := f.users.created[0]
	if !u.PasswordSetupRequired {
		t.Error("auto-created user must require password setup")
	}
	if u.Email != "taro@example.com" {
		t.Errorf("user email = %q", u.Email)
	}

	// A setup-mode session carries no subscription and the ledger has no
	// row yet, so one is created and anchored at the next month boundary.
	if f.gateway.subCalls != 1 {
		t.Fatalf("subscription calls = %d, want 1", f.gateway.subCalls)
	}
	wantAnchor := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	if !f.gateway.subParams.AnchorAt.Equal(wantAnchor) {
		t.Errorf("anchor = %v, want %v", f.gateway.subParams.AnchorAt, wantAnchor)
	}
	if len(f.gateway.subParams.Items) != 3 {
		t.Errorf("subscription items = %+v", f.gateway.subParams.Items)
	}

	if len(f.contracts.upserted) != 1 {
		t.Fatalf("upserted %d contracts, want 1", len(f.contracts.upserted))
	}
	c := f.contracts.upserted[0]
	if c.StripeSubscriptionID != "sub_reconciled" {
		t.Errorf("subscription ref = %q", c.StripeSubscriptionID)
	}
	if c.Status != types.ContractActive {
		t.Errorf("status = %q", c.Status)
	}
	if c.UserID != u.ID {
		t.Errorf("contract user = %q, want %q", c.UserID, u.ID)
	}
	if len(c.SelectedApps) != 2 || !c.HasOpenAIProxy {
		t.Errorf("contract selection = %v proxy=%v", c.SelectedApps, c.HasOpenAIProxy)
	}
	if f.metrics.results[metrics.ResultSuccess] != 1 {
		t.Errorf("metrics = %v", f.metrics.results)
	}
}

func TestProcess_NewSubscription_ExistingUserAndSubscription(t *testing.T) {
	f := newFixture()
	f.users.byEmail = map[string]*types.User{
		"taro@example.com": {ID: "user-9", Email: "taro@example.com"},
	}
	payload := eventPayload(t, "evt_2", EventCheckoutCompleted, map[string]any{
		"id":           "cs_2",
		"customer":     "cus_abc",
		"subscription": "sub_existing",
		"metadata":     checkoutMeta(),
	})

	if err := f.handler.Process(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.users.created) != 0 {
		t.Errorf("no user should be created, got %d", len(f.users.created))
	}
	if f.gateway.subCalls != 0 {
		t.Errorf("no subscription should be created, got %d", f.gateway.subCalls)
	}
	if f.contracts.upserted[0].StripeSubscriptionID != "sub_existing" {
		t.Errorf("subscription ref = %q", f.contracts.upserted[0].StripeSubscriptionID)
	}
	if f.contracts.upserted[0].UserID != "user-9" {
		t.Errorf("user id = %q", f.contracts.upserted[0].UserID)
	}
}

func TestProcess_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture()
	payload := eventPayload(t, "evt_3", EventCheckoutCompleted, map[string]any{
		"id":       "cs_3",
		"customer": "cus_abc",
		"metadata": checkoutMeta(),
	})

	if err := f.handler.Process(context.Background(), payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.handler.Process(context.Background(), payload); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if len(f.contracts.upserted) != 1 {
		t.Errorf("upserted %d contracts, want 1", len(f.contracts.upserted))
	}
	if len(f.users.created) != 1 {
		t.Errorf("created %d users, want 1", len(f.users.created))
	}
	if f.metrics.results[metrics.ResultDuplicate] != 1 {
		t.Errorf("metrics = %v", f.metrics.results)
	}
}

func TestProcess_AppAddition_MergesApps(t *testing.T) {
	f := newFixture()
	f.contracts.knownIDs["ct-1"] = true
	meta := types.AddonMetadata{ContractID: "ct-1", AddedApps: []string{"hr-screening"}}.Encode()
	payload := eventPayload(t, "evt_4", EventPaymentSucceeded, map[string]any{
		"id":       "pi_1",
		"customer": "cus_abc",
		"metadata": meta,
	})

	if err := f.handler.Process(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.contracts.mergedApps["ct-1"]; len(got) != 1 || got[0] != "hr-screening" {
		t.Errorf("merged = %v", got)
	}
}

func TestProcess_AppAddition_UnknownContractRaisesAlert(t *testing.T) {
	f := newFixture()
	meta := types.AddonMetadata{ContractID: "ct-missing", AddedApps: []string{"hr-screening"}}.Encode()
	payload := eventPayload(t, "evt_5", EventCheckoutCompleted, map[string]any{
		"id":       "cs_5",
		"customer": "cus_abc",
		"metadata": meta,
	})

	err := f.handler.Process(context.Background(), payload)
	if err == nil {
		t.Fatal("expected an error for the unknown contract")
	}
	if len(f.alerts.kinds) != 1 || f.alerts.kinds[0] != "contract_not_found" {
		t.Errorf("alerts = %v, want [contract_not_found]", f.alerts.kinds)
	}
	if f.metrics.results[metrics.ResultFailed] != 1 {
		t.Errorf("metrics = %v", f.metrics.results)
	}
}

func TestProcess_SubscriptionLifecycleIsLogOnly(t *testing.T) {
	f := newFixture()
	for i, eventType := range []string{EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted} {
		payload := eventPayload(t, fmt.Sprintf("evt_sub_%d", i), eventType, map[string]any{
			"id":     "sub_1",
			"status": "active",
		})
		if err := f.handler.Process(context.Background(), payload); err != nil {
			t.Fatalf("%s: %v", eventType, err)
		}
	}
	if len(f.contracts.upserted) != 0 || f.contracts.mergeCalls != 0 {
		t.Error("lifecycle events must not touch the ledger")
	}
	if f.metrics.results[metrics.ResultSuccess] != 3 {
		t.Errorf("metrics = %v", f.metrics.results)
	}
}

func TestProcess_UnhandledEventTypeIsRecordedAndIgnored(t *testing.T) {
	f := newFixture()
	payload := eventPayload(t, "evt_6", "invoice.paid", map[string]any{"id": "in_1"})

	if err := f.handler.Process(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.events.seen["evt_6"] {
		t.Error("event must still be recorded")
	}
	if f.metrics.results[metrics.ResultIgnored] != 1 {
		t.Errorf("metrics = %v", f.metrics.results)
	}
}

func TestProcess_RejectsMalformedPayload(t *testing.T) {
	f := newFixture()
	if err := f.handler.Process(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
	if err := f.handler.Process(context.Background(), []byte(`{"type":"x"}`)); err == nil {
		t.Fatal("expected an error for a payload without an id")
	}
}

func TestProcess_SessionWithoutPurposeIsIgnored(t *testing.T) {
	f := newFixture()
	payload := eventPayload(t, "evt_7", EventCheckoutCompleted, map[string]any{
		"id":       "cs_7",
		"customer": "cus_other",
		"metadata": map[string]string{"origin": "some-other-system"},
	})

	if err := f.handler.Process(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.contracts.upserted) != 0 {
		t.Error("sessions without our purpose tag must not touch the ledger")
	}
}

func TestProcess_NewSubscription_AdoptsLedgerSubscription(t *testing.T) {
	f := newFixture()
	f.contracts.byCustomer = map[string]*types.Contract{
		"cus_abc": {
			ID:                   "ct-sync",
			Status:               types.ContractActive,
			StripeCustomerID:     "cus_abc",
			StripeSubscriptionID: "sub_from_sync",
		},
	}
	payload := eventPayload(t, "evt_8", EventCheckoutCompleted, map[string]any{
		"id":       "cs_8",
		"customer": "cus_abc",
		"metadata": checkoutMeta(),
	})

	if err := f.handler.Process(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.gateway.subCalls != 0 {
		t.Errorf("a second subscription was created, calls = %d", f.gateway.subCalls)
	}
	if len(f.contracts.upserted) != 1 {
		t.Fatalf("upserted %d contracts, want 1", len(f.contracts.upserted))
	}
	if f.contracts.upserted[0].StripeSubscriptionID != "sub_from_sync" {
		t.Errorf("subscription ref = %q, want sub_from_sync", f.contracts.upserted[0].StripeSubscriptionID)
	}
}

func TestProcess_NewSubscription_UnknownPlanFailsBeforeGateway(t *testing.T) {
	f := newFixture()
	meta := types.CheckoutMetadata{
		PlanID:        "enterprise",
		ApplicantType: types.ApplicantIndividual,
		CustomerName:  "Taro Yamada",
		CustomerEmail: "taro@example.com",
		Total:         1800,
	}.Encode()
	payload := eventPayload(t, "evt_9", EventCheckoutCompleted, map[string]any{
		"id":       "cs_9",
		"customer": "cus_abc",
		"metadata": meta,
	})

	err := f.handler.Process(context.Background(), payload)
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationUnknownPlan {
		t.Fatalf("expected unknown plan error, got %v", err)
	}
	if f.gateway.subCalls != 0 {
		t.Errorf("gateway must not be called for an unknown plan, got %d calls", f.gateway.subCalls)
	}
	if len(f.users.created) != 0 {
		t.Errorf("no user should be created for an unknown plan, got %d", len(f.users.created))
	}
}
