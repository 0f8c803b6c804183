// Package payment defines the contract every payment provider adapter
// implements, plus the error taxonomy shared by checkout and reconciliation.
//
// Adapters wrap each network call in a bounded timeout and never retry. A
// commit or create that is resubmitted may be treated by the provider as a
// new charge attempt, so retry decisions belong to the caller.
package payment

import (
	"context"
	"errors"
	"fmt"
)

const (
	ProviderWebpay      = "webpay"
	ProviderMercadoPago = "mercadopago"
)

var (
	// ErrProviderUnavailable covers transport failures, timeouts and provider-side 5xx responses.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrProviderRejected is returned when the provider refuses the request itself.
	ErrProviderRejected = errors.New("payment provider rejected request")
	// ErrPaymentNotApproved is returned when the provider reports the payment as not approved.
	ErrPaymentNotApproved = errors.New("payment not approved")
	// ErrUnknownProvider is returned for provider names with no configured adapter.
	ErrUnknownProvider = errors.New("unknown payment provider")
)

// RejectionError carries a buyer-facing reason next to one of the sentinel errors above.
type RejectionError struct {
	Kind    error
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%v: %s (%s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *RejectionError) Unwrap() error { return e.Kind }

// Reject builds a RejectionError whose message comes from the status-detail table.
func Reject(kind error, code string) *RejectionError {
	return &RejectionError{Kind: kind, Code: code, Message: Message(code)}
}

type Item struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice int64
}

type CreateRequest struct {
	BuyOrder          string
	BuyerID           string
	Amount            int64
	ReturnURL         string
	ExternalReference string
	Items             []Item
}

type CreateResult struct {
	Token       string
	RedirectURL string
}

// Provider is implemented by every adapter.
type Provider interface {
	Name() string
	CreateTransaction(ctx context.Context, req CreateRequest) (CreateResult, error)
}

type CommitStatus string

const (
	CommitAuthorized CommitStatus = "authorized"
	CommitRejected   CommitStatus = "rejected"
)

type Commit struct {
	Status           CommitStatus
	ProviderOrderRef string
	Amount           int64
	CardSuffix       string
	ResponseCode     string
}

// Committer is implemented by redirect-commit providers.
type Committer interface {
	ConfirmTransaction(ctx context.Context, token string) (Commit, error)
}

// StatusChecker is implemented by redirect-commit providers that can report a
// transaction's outcome without committing it again.
type StatusChecker interface {
	TransactionStatus(ctx context.Context, token string) (Commit, error)
}

type PaymentStatus string

const (
	PaymentApproved PaymentStatus = "approved"
	PaymentPending  PaymentStatus = "pending"
	PaymentRejected PaymentStatus = "rejected"
)

type PaymentInfo struct {
	ID                string
	Status            PaymentStatus
	Amount            int64
	PreferenceRef     string
	ExternalReference string
	StatusDetail      string
	MerchantOrderRef  string
}

// PaymentFetcher is implemented by preference/webhook providers.
type PaymentFetcher interface {
	FetchPaymentInfo(ctx context.Context, paymentID string) (PaymentInfo, error)
}

// MerchantOrder groups the payments a provider made under one preference.
type MerchantOrder struct {
	ID                string
	PreferenceRef     string
	ExternalReference string
	Payments          []PaymentInfo
}

// MerchantOrderFetcher is implemented by providers that group payments into merchant orders.
type MerchantOrderFetcher interface {
	FetchMerchantOrder(ctx context.Context, id string) (MerchantOrder, error)
}
