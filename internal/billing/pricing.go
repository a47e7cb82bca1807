// Package billing holds the pricing arithmetic shared by the provisioning
// orchestrator and the reconciliation handler. Both paths must compute the
// same total for the same selection, so the computation lives in exactly one
// place.
package billing

import (
	"fmt"

	"contracthub/internal/catalog"
	"contracthub/internal/types"
)

// Quote is a priced breakdown in major units. StoragePrice is zero for
// checkout quotes, where the selection always starts on the included tier.
type Quote struct {
	BasePrice    int64 `json:"base_price"`
	AppsPrice    int64 `json:"apps_price"`
	ProxyPrice   int64 `json:"proxy_price"`
	StoragePrice int64 `json:"storage_price"`
	Total        int64 `json:"total"`
}

// PriceSelection computes the charge for a selection from the catalog:
// base plan + appCount x unit price + proxy when enabled. Unknown plan or
// app ids are a validation error; nothing is priced on guesses.
func PriceSelection(cat *catalog.Catalog, sel types.Selection) (Quote, error) {
	plan, ok := cat.Plan(sel.PlanID)
	if !ok {
		return Quote{}, types.NewAppError(
			types.ErrCodeValidationUnknownPlan,
			fmt.Sprintf("unknown plan %q", sel.PlanID),
			nil,
		)
	}

	if badID, ok := cat.ValidateApps(sel.SelectedApps); !ok {
		return Quote{}, types.NewAppError(
			types.ErrCodeValidationUnknownApp,
			fmt.Sprintf("unknown add-on app %q", badID),
			nil,
		)
	}

	q := Quote{
		BasePrice: plan.Price,
		AppsPrice: int64(len(sel.SelectedApps)) * catalog.AppUnitPrice,
	}
	if sel.HasOpenAIProxy {
		q.ProxyPrice = cat.Proxy().Price
	}
	q.Total = q.BasePrice + q.AppsPrice + q.ProxyPrice
	return q, nil
}

// PriceContract computes a contract's monthly amount from the current
// catalog: base plan, add-on apps, proxy, and the storage tier in effect.
// Nothing stored on the contract is trusted for pricing except the ids.
func PriceContract(cat *catalog.Catalog, c *types.Contract) (Quote, error) {
	q, err := PriceSelection(cat, types.Selection{
		PlanID:         c.PlanID,
		SelectedApps:   c.SelectedApps,
		HasOpenAIProxy: c.HasOpenAIProxy,
	})
	if err != nil {
		return Quote{}, err
	}

	tier, ok := cat.StorageTier(c.EffectiveStorageTier())
	if !ok {
		return Quote{}, types.NewAppError(
			types.ErrCodeValidationUnknownTier,
			fmt.Sprintf("unknown storage tier %q", c.EffectiveStorageTier()),
			nil,
		)
	}
	q.StoragePrice = tier.Price
	q.Total += tier.Price
	return q, nil
}

// PriceApps computes the one-off charge for adding count apps.
func PriceApps(count int) int64 {
	return int64(count) * catalog.AppUnitPrice
}

// ToMinorUnits converts a major-unit amount to the provider's minor units.
// The catalog currency has two decimal places, so the factor is exactly 100.
// This is the only conversion point; amounts inside the service stay major.
func ToMinorUnits(major int64) int64 {
	return major * 100
}

// FromMinorUnits converts a provider minor-unit amount back to major units.
// Amounts produced by this service are always whole major units, so a
// remainder indicates a foreign or corrupted amount and is reported.
func FromMinorUnits(minor int64) (int64, error) {
	if minor%100 != 0 {
		return 0, types.NewAppError(
			types.ErrCodeValidationBadMetadata,
			fmt.Sprintf("amount %d is not a whole major unit", minor),
			nil,
		)
	}
	return minor / 100, nil
}
