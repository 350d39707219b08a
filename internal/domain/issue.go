package domain

import "github.com/shopspring/decimal"

// IssueKind classifies a suspicious charge.
type IssueKind string

const (
	IssueDuplicateCharge      IssueKind = "duplicate_charge"
	IssuePriceIncrease        IssueKind = "price_increase"
	IssueCancellationFriction IssueKind = "cancellation_friction"
	IssueTrialConversion      IssueKind = "trial_conversion"
	IssueUnexpectedFee        IssueKind = "unexpected_fee"
	IssueChargebackFee        IssueKind = "chargeback_fee"
	IssueSplitBilling         IssueKind = "split_billing"

	// IssueOther tags issues reported by the completion service that do not
	// map onto a rule-engine kind.
	IssueOther IssueKind = "other"
)

var issueLabels = map[IssueKind]string{
	IssueDuplicateCharge:      "Possible duplicate charge",
	IssuePriceIncrease:        "Possible price increase on subscription",
	IssueCancellationFriction: "Cancellation friction or billing after cancel request",
	IssueTrialConversion:      "Free trial converted to paid plan",
	IssueUnexpectedFee:        "Unexpected fee",
	IssueChargebackFee:        "Possible chargeback/dispute fee",
	IssueSplitBilling:         "Multiple same-day charges",
}

// Label returns the human-readable description of the kind.
func (k IssueKind) Label() string {
	if l, ok := issueLabels[k]; ok {
		return l
	}
	return "Suspicious charge"
}

// ParseIssueKind maps free text onto a known kind, or IssueOther.
func ParseIssueKind(s string) IssueKind {
	k := IssueKind(s)
	if _, ok := issueLabels[k]; ok {
		return k
	}
	return IssueOther
}

// Issue is a detected anomaly for one merchant.
type Issue struct {
	Merchant      string          `json:"merchant"`
	Kind          IssueKind       `json:"issue_kind"`
	Description   string          `json:"issue"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	NeedsEvidence bool            `json:"needs_evidence"`
}

// Title is the free-text description when present, else the kind label.
func (i Issue) Title() string {
	if i.Description != "" {
		return i.Description
	}
	return i.Kind.Label()
}
