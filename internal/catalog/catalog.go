// Package catalog is the static price book for the subscription service.
// It maps plan, add-on app, and storage tier identifiers to their prices and
// descriptive metadata. All prices are in major currency units; conversion to
// the billing provider's minor units happens at the gateway boundary.
//
// The catalog is pure configuration: no state, no database. It is the single
// source every component recomputes billed amounts from, so derived totals
// can never drift from a stored copy.
package catalog

// Currency is the ISO code every catalog price is denominated in.
const Currency = "hkd"

// Plan is a subscribable base plan.
type Plan struct {
	ID            string
	Name          string
	Price         int64
	Features      []string
	StripePriceID string
}

// App is a purchasable add-on application.
type App struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       int64
}

// ProxyService is the optional API proxy add-on.
type ProxyService struct {
	ID            string
	Name          string
	Description   string
	Price         int64
	StripePriceID string
}

// StorageTier is a storage capacity level. The default tier is included in
// the base plan and has no Stripe price of its own.
type StorageTier struct {
	ID            string
	Name          string
	StorageGB     int
	Price         int64
	StripePriceID string
	IsDefault     bool
}

// AppUnitPrice is the flat monthly price of every add-on app.
const AppUnitPrice int64 = 400

// AppOptionPriceID is the Stripe price used for the per-app recurring
// subscription item; quantity encodes the number of subscribed apps.
const AppOptionPriceID = "price_app_option_400"

var plans = []Plan{
	{
		ID:    "basic",
		Name:  "Basic Plan",
		Price: 800,
		Features: []string{
			"Multilingual no-code workspace",
			"Inputs excluded from model training",
			"Unlimited seats",
			"5GB data storage included",
		},
		StripePriceID: "price_basic_plan_800",
	},
}

var apps = []App{
	{ID: "email-assistant", Name: "Email Drafting AI", Description: "Drafts business email automatically", Category: "communication", Price: AppUnitPrice},
	{ID: "faq-chat-ai", Name: "FAQ Chat AI", Description: "Automates inquiry handling", Category: "customer-service", Price: AppUnitPrice},
	{ID: "document-analyzer", Name: "Document Analyzer AI", Description: "Analyzes contracts and reports", Category: "document", Price: AppUnitPrice},
	{ID: "meeting-summarizer", Name: "Meeting Summarizer AI", Description: "Extracts key points from minutes", Category: "productivity", Price: AppUnitPrice},
	{ID: "sales-proposal", Name: "Sales Proposal AI", Description: "Builds proposals from customer data", Category: "sales", Price: AppUnitPrice},
	{ID: "hr-screening", Name: "HR Screening AI", Description: "Automates resume screening", Category: "hr", Price: AppUnitPrice},
	{ID: "inventory-optimizer", Name: "Inventory Optimizer AI", Description: "Demand-driven stock management", Category: "operations", Price: AppUnitPrice},
	{ID: "risk-analyzer", Name: "Risk Analyzer AI", Description: "Evaluates investment and business risk", Category: "finance", Price: AppUnitPrice},
	{ID: "content-generator", Name: "Content Generator AI", Description: "Produces marketing content", Category: "marketing", Price: AppUnitPrice},
	{ID: "quality-checker", Name: "Quality Checker AI", Description: "Checks product and service quality", Category: "quality", Price: AppUnitPrice},
}

var proxy = ProxyService{
	ID:            "openai-proxy",
	Name:          "OpenAI API Proxy",
	Description:   "Managed OpenAI access for customers without their own key",
	Price:         200,
	StripePriceID: "price_openai_proxy_200",
}

var storageTiers = []StorageTier{
	{ID: "5gb", Name: "5GB (included)", StorageGB: 5, Price: 0, IsDefault: true},
	{ID: "50gb", Name: "50GB", StorageGB: 50, Price: 200, StripePriceID: "price_storage_50gb_200"},
	{ID: "200gb", Name: "200GB", StorageGB: 200, Price: 500, StripePriceID: "price_storage_200gb_500"},
}

// Catalog provides lookups into the static price book. The zero value is not
// usable; construct with New.
type Catalog struct {
	plansByID   map[string]Plan
	appsByID    map[string]App
	tiersByID   map[string]StorageTier
	proxyByID   ProxyService
	defaultTier StorageTier
}

// New builds the production catalog from the compiled-in price book.
func New() *Catalog {
	c := &Catalog{
		plansByID: make(map[string]Plan, len(plans)),
		appsByID:  make(map[string]App, len(apps)),
		tiersByID: make(map[string]StorageTier, len(storageTiers)),
		proxyByID: proxy,
	}
	for _, p := range plans {
		c.plansByID[p.ID] = p
	}
	for _, a := range apps {
		c.appsByID[a.ID] = a
	}
	for _, t := range storageTiers {
		c.tiersByID[t.ID] = t
		if t.IsDefault {
			c.defaultTier = t
		}
	}
	return c
}

// Plan returns the plan with the given id.
func (c *Catalog) Plan(id string) (Plan, bool) {
	p, ok := c.plansByID[id]
	return p, ok
}

// App returns the add-on app with the given id.
func (c *Catalog) App(id string) (App, bool) {
	a, ok := c.appsByID[id]
	return a, ok
}

// StorageTier returns the storage tier with the given id.
func (c *Catalog) StorageTier(id string) (StorageTier, bool) {
	t, ok := c.tiersByID[id]
	return t, ok
}

// Proxy returns the API proxy service definition.
func (c *Catalog) Proxy() ProxyService {
	return c.proxyByID
}

// DefaultStorageTier returns the tier included in the base plan.
func (c *Catalog) DefaultStorageTier() StorageTier {
	return c.defaultTier
}

// Plans returns all subscribable plans.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// Apps returns all purchasable add-on apps.
func (c *Catalog) Apps() []App {
	out := make([]App, len(apps))
	copy(out, apps)
	return out
}

// StorageTiers returns all storage tiers, default first.
func (c *Catalog) StorageTiers() []StorageTier {
	out := make([]StorageTier, len(storageTiers))
	copy(out, storageTiers)
	return out
}

// ValidateApps reports the first unknown app id in ids, if any.
func (c *Catalog) ValidateApps(ids []string) (string, bool) {
	for _, id := range ids {
		if _, ok := c.appsByID[id]; !ok {
			return id, false
		}
	}
	return "", true
}
