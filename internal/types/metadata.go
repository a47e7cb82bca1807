package types

import (
	"strconv"
	"strings"
)

// Metadata keys used on the billing provider's string-keyed metadata channel.
// The channel is the only way selection data survives the round trip through
// the provider, so the encoding is versioned and strictly validated on the
// way back in. Missing or malformed required fields are a validation error
// at the reconciliation boundary, never silently-absent optional data.
const (
	metaKeyVersion       = "ch_version"
	metaKeyPurpose       = "purpose"
	metaKeyUserID        = "user_id"
	metaKeyPlanID        = "plan_id"
	metaKeyApplicantType = "applicant_type"
	metaKeyCustomerName  = "customer_name"
	metaKeyCompanyName   = "company_name"
	metaKeyCustomerEmail = "customer_email"
	metaKeyProxy         = "has_openai_proxy"
	metaKeySelectedApps  = "selected_apps"
	metaKeyTotal         = "total"
	metaKeyContractID    = "contract_id"
	metaKeyAddedApps     = "added_apps"
)

// MetadataVersion identifies the current metadata encoding. Bump on any
// incompatible change; the parser rejects versions it does not understand.
const MetadataVersion = "1"

// Checkout purposes carried in metadata. The reconciliation handler uses the
// purpose to decide which idempotent write to re-derive.
const (
	PurposeNewSubscription = "new_subscription"
	PurposeAppAddition     = "app_addition"
)

// CheckoutMetadata is the validated form of the metadata attached to a
// new-subscription checkout. It carries everything the reconciliation
// handler needs to finish provisioning from billing-side data alone.
type CheckoutMetadata struct {
	UserID        string
	PlanID        string
	ApplicantType ApplicantType
	CustomerName  string
	CompanyName   string
	CustomerEmail string
	HasProxy      bool
	SelectedApps  []string
	Total         int64 // major units, recorded for divergence detection only
}

// Encode flattens the metadata into the provider's string map form.
func (m CheckoutMetadata) Encode() map[string]string {
	return map[string]string{
		metaKeyVersion:       MetadataVersion,
		metaKeyPurpose:       PurposeNewSubscription,
		metaKeyUserID:        m.UserID,
		metaKeyPlanID:        m.PlanID,
		metaKeyApplicantType: string(m.ApplicantType),
		metaKeyCustomerName:  m.CustomerName,
		metaKeyCompanyName:   m.CompanyName,
		metaKeyCustomerEmail: m.CustomerEmail,
		metaKeyProxy:         strconv.FormatBool(m.HasProxy),
		metaKeySelectedApps:  strings.Join(m.SelectedApps, ","),
		metaKeyTotal:         strconv.FormatInt(m.Total, 10),
	}
}

// AddonMetadata is the validated form of the metadata attached to an
// app-addition checkout.
type AddonMetadata struct {
	ContractID string
	AddedApps  []string
}

// Encode flattens the metadata into the provider's string map form.
func (m AddonMetadata) Encode() map[string]string {
	return map[string]string{
		metaKeyVersion:    MetadataVersion,
		metaKeyPurpose:    PurposeAppAddition,
		metaKeyContractID: m.ContractID,
		metaKeyAddedApps:  strings.Join(m.AddedApps, ","),
	}
}

// MetadataPurpose returns the tagged purpose of a raw metadata map, or ""
// when none is present. Events without a recognized purpose are not ours.
func MetadataPurpose(meta map[string]string) string {
	return meta[metaKeyPurpose]
}

// ParseCheckoutMetadata validates and decodes a raw metadata map into a
// CheckoutMetadata. Required fields: version, plan id, customer name, and
// customer email. UserID may be empty (checkout can complete before the
// customer ever signs in).
func ParseCheckoutMetadata(meta map[string]string) (CheckoutMetadata, error) {
	if err := checkMetaVersion(meta); err != nil {
		return CheckoutMetadata{}, err
	}

	out := CheckoutMetadata{
		UserID:        meta[metaKeyUserID],
		PlanID:        meta[metaKeyPlanID],
		CustomerName:  meta[metaKeyCustomerName],
		CompanyName:   meta[metaKeyCompanyName],
		CustomerEmail: meta[metaKeyCustomerEmail],
	}

	missing := make([]string, 0, 3)
	if out.PlanID == "" {
		missing = append(missing, metaKeyPlanID)
	}
	if out.CustomerName == "" {
		missing = append(missing, metaKeyCustomerName)
	}
	if out.CustomerEmail == "" {
		missing = append(missing, metaKeyCustomerEmail)
	}
	if len(missing) > 0 {
		return CheckoutMetadata{}, NewAppErrorWithDetails(
			ErrCodeValidationBadMetadata,
			"checkout metadata is missing required fields",
			nil,
			map[string]any{"missing": missing},
		)
	}

	switch ApplicantType(meta[metaKeyApplicantType]) {
	case ApplicantOrganization:
		out.ApplicantType = ApplicantOrganization
	default:
		out.ApplicantType = ApplicantIndividual
	}

	out.HasProxy = meta[metaKeyProxy] == "true"
	out.SelectedApps = splitIDList(meta[metaKeySelectedApps])

	if raw := meta[metaKeyTotal]; raw != "" {
		total, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return CheckoutMetadata{}, NewAppError(
				ErrCodeValidationBadMetadata,
				"checkout metadata total is not an integer",
				err,
			)
		}
		out.Total = total
	}

	return out, nil
}

// ParseAddonMetadata validates and decodes a raw metadata map into an
// AddonMetadata. Both the contract id and a non-empty app list are required.
func ParseAddonMetadata(meta map[string]string) (AddonMetadata, error) {
	if err := checkMetaVersion(meta); err != nil {
		return AddonMetadata{}, err
	}

	out := AddonMetadata{
		ContractID: meta[metaKeyContractID],
		AddedApps:  splitIDList(meta[metaKeyAddedApps]),
	}

	if out.ContractID == "" {
		return AddonMetadata{}, NewAppError(
			ErrCodeValidationBadMetadata,
			"addon metadata is missing contract_id",
			nil,
		)
	}
	if len(out.AddedApps) == 0 {
		return AddonMetadata{}, NewAppError(
			ErrCodeValidationBadMetadata,
			"addon metadata carries no app ids",
			nil,
		)
	}

	return out, nil
}

func checkMetaVersion(meta map[string]string) error {
	v, ok := meta[metaKeyVersion]
	if !ok {
		return NewAppError(
			ErrCodeValidationBadMetadata,
			"event metadata is missing the encoding version",
			nil,
		)
	}
	if v != MetadataVersion {
		return NewAppErrorWithDetails(
			ErrCodeValidationBadMetadata,
			"unsupported event metadata version",
			nil,
			map[string]any{"version": v},
		)
	}
	return nil
}

// splitIDList splits a comma-joined id list, dropping empty segments so a
// trailing comma or an empty string never yields phantom ids.
func splitIDList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
