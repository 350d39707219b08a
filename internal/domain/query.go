package domain

import "time"

// QueryType is the shape of answer a transaction question asks for.
type QueryType string

const (
	QueryMax              QueryType = "max"
	QueryMin              QueryType = "min"
	QueryCount            QueryType = "count"
	QueryTotal            QueryType = "total"
	QueryByMerchant       QueryType = "by_merchant"
	QueryByCategory       QueryType = "by_category"
	QueryRecent           QueryType = "recent"
	QuerySubscriptionScan QueryType = "subscription_scan"
	QueryClarify          QueryType = "clarify"
)

// Direction restricts a query to money out, money in, or both.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
	DirectionAny    Direction = "any"
)

// TransactionQuery is the structured form of a natural-language question
// about the transaction set. StartDate and EndDate are inclusive.
type TransactionQuery struct {
	Type             QueryType  `json:"query_type"`
	Direction        Direction  `json:"direction"`
	Merchant         string     `json:"merchant,omitempty"`
	Category         string     `json:"category,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	NeedsFollowup    bool       `json:"needs_followup"`
	FollowUpQuestion string     `json:"follow_up_question,omitempty"`
}

// HasDateRange reports whether either bound was resolved.
func (q *TransactionQuery) HasDateRange() bool {
	return q.StartDate != nil || q.EndDate != nil
}
