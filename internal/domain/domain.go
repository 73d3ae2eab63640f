package domain

import "time"

// AccountStatus tracks a merchant's verification progress with the upstream
// processor. Transitions are monotonic: NEW -> RESTRICTED -> VERIFIED.
type AccountStatus string

const (
	AccountNew        AccountStatus = "NEW"
	AccountRestricted AccountStatus = "RESTRICTED"
	AccountVerified   AccountStatus = "VERIFIED"
)

// Rank orders statuses so upgrades can be applied conditionally.
func (s AccountStatus) Rank() int {
	switch s {
	case AccountRestricted:
		return 1
	case AccountVerified:
		return 2
	default:
		return 0
	}
}

// Account is one merchant's connected account. Accounts are soft-deactivated,
// never deleted.
type Account struct {
	ID            string        `json:"id"`
	BusinessName  string        `json:"business_name"`
	Email         string        `json:"email"`
	Country       string        `json:"country"`
	Status        AccountStatus `json:"status"`
	ProcessorID   string        `json:"processor_id"`
	CreatedAt     time.Time     `json:"created_at"`
	DeactivatedAt *time.Time    `json:"deactivated_at,omitempty"`
}

// LinkKind distinguishes one-off checkouts from recurring ones.
type LinkKind string

const (
	LinkOneTime      LinkKind = "one_time"
	LinkSubscription LinkKind = "subscription"
)

type LinkStatus string

const (
	LinkActive   LinkStatus = "ACTIVE"
	LinkDisabled LinkStatus = "DISABLED"
	LinkExpired  LinkStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions. A link
// that leaves ACTIVE never returns to it.
func (s LinkStatus) Terminal() bool {
	return s == LinkDisabled || s == LinkExpired
}

// RecurringInterval is the billing period of a subscription link.
type RecurringInterval string

const (
	IntervalDay   RecurringInterval = "day"
	IntervalWeek  RecurringInterval = "week"
	IntervalMonth RecurringInterval = "month"
	IntervalYear  RecurringInterval = "year"
)

func (i RecurringInterval) Valid() bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// Link is a shareable checkout reference. Amounts are integer minor units;
// ServiceFee and NetAmount hold the split computed at creation time.
type Link struct {
	ID                 string            `json:"id"`
	AccountID          string            `json:"account_id"`
	Kind               LinkKind          `json:"kind"`
	Title              string            `json:"title"`
	Description        string            `json:"description,omitempty"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	ServiceFee         int64             `json:"service_fee"`
	NetAmount          int64             `json:"net_amount"`
	Status             LinkStatus        `json:"status"`
	RequiredFields     []string          `json:"required_fields,omitempty"`
	Interval           RecurringInterval `json:"interval,omitempty"`
	ExpiresAt          *time.Time        `json:"expires_at,omitempty"`
	CheckoutID         string            `json:"checkout_id"`
	URL                string            `json:"url"`
	CheckoutDisabledAt *time.Time        `json:"-"`
	TotalCollected     int64             `json:"total_collected"`
	NetEarned          int64             `json:"net_earned"`
	CreatedAt          time.Time         `json:"created_at"`
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionSucceeded TransactionStatus = "SUCCEEDED"
	TransactionFailed    TransactionStatus = "FAILED"
	TransactionRefunded  TransactionStatus = "REFUNDED"
)

// CustomerDetails is the snapshot captured at payment time. It never changes
// afterwards, even if the customer's processor profile does.
type CustomerDetails struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Transaction records one charge. PaymentID is the processor's payment id
// and is unique per account.
type Transaction struct {
	PaymentID  string            `json:"payment_id"`
	AccountID  string            `json:"account_id"`
	LinkID     string            `json:"link_id"`
	Amount     int64             `json:"amount"`
	NetAmount  int64             `json:"net_amount"`
	Currency   string            `json:"currency"`
	Status     TransactionStatus `json:"status"`
	Customer   CustomerDetails   `json:"customer"`
	RefundedAt *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Balance is one currency's position for an account. Pending is collected
// but not yet paid out; Settled has been transferred to the merchant.
type Balance struct {
	Currency string `json:"currency"`
	Pending  int64  `json:"pending"`
	Settled  int64  `json:"settled"`
}

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// CustomerSubscription is one customer's recurring enrollment against a
// subscription link. Canceling it does not touch the link itself.
type CustomerSubscription struct {
	ID            string             `json:"id"`
	LinkID        string             `json:"link_id"`
	AccountID     string             `json:"account_id"`
	Status        SubscriptionStatus `json:"status"`
	CustomerEmail string             `json:"customer_email,omitempty"`
	CanceledAt    *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

type PayoutOutcome string

const (
	PayoutInFlight    PayoutOutcome = "IN_FLIGHT"
	PayoutTransferred PayoutOutcome = "TRANSFERRED"
	PayoutFailed      PayoutOutcome = "FAILED"
)

// PayoutAttempt records one transfer attempt for one currency. At most one
// attempt per (account, currency) may be in flight at a time.
type PayoutAttempt struct {
	ID               string        `json:"id"`
	AccountID        string        `json:"account_id"`
	Currency         string        `json:"currency"`
	Amount           int64         `json:"amount"`
	Outcome          PayoutOutcome `json:"outcome"`
	TransferID       string        `json:"transfer_id,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty"`
	IdempotencyToken string        `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
}

// PayoutResult is the per-currency outcome map returned by a payout request.
// Partial failure is the modeled case: Transferred and Failed are disjoint
// and together cover every currency that had a positive pending balance.
type PayoutResult struct {
	Transferred map[string]int64  `json:"transferred"`
	Failed      map[string]string `json:"failed"`
	PayoutIDs   map[string]string `json:"payout_ids"`
}

func NewPayoutResult() *PayoutResult {
	return &PayoutResult{
		Transferred: make(map[string]int64),
		Failed:      make(map[string]string),
		PayoutIDs:   make(map[string]string),
	}
}

// OutboxMessage is one queued ledger event awaiting relay. It is written
// in the same transaction as the change it describes.
type OutboxMessage struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
