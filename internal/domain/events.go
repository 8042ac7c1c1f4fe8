package domain

import "time"

// Event subjects published to the message bus.
const (
	SubjectActivityRecorded     = "market.activity.recorded"
	SubjectListingReserved      = "market.listing.reserved"
	SubjectTransactionCompleted = "market.transaction.completed"
	SubjectTransactionCancelled = "market.transaction.cancelled"
)

type ListingReservedEvent struct {
	ListingID     string    `json:"listing_id"`
	TransactionID string    `json:"transaction_id"`
	SellerID      string    `json:"seller_id"`
	BuyerID       string    `json:"buyer_id"`
	Amount        float64   `json:"amount"`
	Price         float64   `json:"price"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type TransactionClosedEvent struct {
	TransactionID string            `json:"transaction_id"`
	ListingID     string            `json:"listing_id"`
	SellerID      string            `json:"seller_id"`
	BuyerID       string            `json:"buyer_id"`
	Status        TransactionStatus `json:"status"`
	Method        CompletionMethod  `json:"method,omitempty"`
	ActorID       string            `json:"actor_id"`
	OccurredAt    time.Time         `json:"occurred_at"`
}
