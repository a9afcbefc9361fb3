package request

import (
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	requestDatamodel "github.com/frahmantamala/service-marketplace/internal/core/datamodel/request"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Payment statuses as reported by the processor, collapsed to the values the
// marketplace acts on.
const (
	PaymentStatusUnpaid     = "unpaid"
	PaymentStatusProcessing = "processing"
	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusFailed     = "failed"
	PaymentStatusCanceled   = "canceled"
)

// Actor is the role a caller plays on one particular request.
type Actor string

const (
	ActorNone       Actor = ""
	ActorClient     Actor = "client"
	ActorProvider   Actor = "provider"
	ActorSettlement Actor = "settlement"
)

// transitions lists, for each source status, the reachable targets and who may
// drive them. Terminal states have no entry.
var transitions = map[Status]map[Status][]Actor{
	StatusPending: {
		StatusAccepted:  {ActorProvider},
		StatusRejected:  {ActorProvider},
		StatusCancelled: {ActorClient},
	},
	StatusAccepted: {
		StatusCancelled: {ActorClient, ActorProvider},
		StatusCompleted: {ActorSettlement},
	},
}

// CanTransition reports whether actor may move a request from one status to another.
func CanTransition(from, to Status, actor Actor) bool {
	for _, a := range transitions[from][to] {
		if a == actor {
			return true
		}
	}
	return false
}

type Request struct {
	ID               string     `json:"id"`
	ClientID         string     `json:"client_id"`
	ProviderID       string     `json:"provider_id"`
	ServiceName      string     `json:"service_name"`
	Description      string     `json:"description"`
	Location         string     `json:"location"`
	Date             string     `json:"date"`
	Time             string     `json:"time"`
	Status           Status     `json:"status"`
	PriceAmount      *int64     `json:"price_amount,omitempty"`
	Currency         *string    `json:"currency,omitempty"`
	OriginalCurrency *string    `json:"original_currency,omitempty"`
	PaymentStatus    string     `json:"payment_status"`
	PaymentIntentID  *string    `json:"payment_intent_id,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
	RejectedAt       *time.Time `json:"rejected_at,omitempty"`
	RejectionReason  *string    `json:"rejection_reason,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	ReviewedAt       *time.Time `json:"reviewed_at,omitempty"`
	ReviewRating     *int       `json:"review_rating,omitempty"`
	ReviewComment    *string    `json:"review_comment,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func NewRequest(clientID string, dto CreateRequestDTO, now time.Time) *Request {
	return &Request{
		ID:            uuid.NewString(),
		ClientID:      clientID,
		ProviderID:    dto.ProviderID,
		ServiceName:   dto.ServiceName,
		Description:   dto.Description,
		Location:      dto.Location,
		Date:          dto.Date,
		Time:          dto.Time,
		Status:        StatusPending,
		PaymentStatus: PaymentStatusUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r *Request) IsClient(userID string) bool {
	return userID != "" && r.ClientID == userID
}

func (r *Request) IsProvider(userID string) bool {
	return userID != "" && r.ProviderID == userID
}

func (r *Request) IsParticipant(userID string) bool {
	return r.IsClient(userID) || r.IsProvider(userID)
}

func (r *Request) RoleOf(userID string) Actor {
	switch {
	case r.IsClient(userID):
		return ActorClient
	case r.IsProvider(userID):
		return ActorProvider
	}
	return ActorNone
}

func (r *Request) IsPriced() bool {
	return r.PriceAmount != nil && *r.PriceAmount > 0 && r.Currency != nil && *r.Currency != ""
}

func (r *Request) IsPaid() bool {
	return r.PaymentStatus == PaymentStatusSucceeded
}

func (r *Request) HasIntent() bool {
	return r.PaymentIntentID != nil && *r.PaymentIntentID != ""
}

// transition moves the request to the target status. Unknown edges, including
// every edge out of a terminal state, fail with ErrInvalidTransition and leave
// the request untouched.
func (r *Request) transition(to Status, actor Actor, now time.Time) error {
	allowed, ok := transitions[r.Status][to]
	if !ok {
		return internal.ErrInvalidTransition.WithMessage(
			"cannot move request from " + string(r.Status) + " to " + string(to))
	}
	permitted := false
	for _, a := range allowed {
		if a == actor {
			permitted = true
			break
		}
	}
	if !permitted {
		return internal.ErrUnauthorizedAccess
	}

	r.Status = to
	r.UpdatedAt = now
	return nil
}

func (r *Request) Accept(actor Actor, now time.Time) error {
	if err := r.transition(StatusAccepted, actor, now); err != nil {
		return err
	}
	r.AcceptedAt = &now
	return nil
}

func (r *Request) Reject(actor Actor, reason string, now time.Time) error {
	if err := r.transition(StatusRejected, actor, now); err != nil {
		return err
	}
	r.RejectedAt = &now
	if reason != "" {
		r.RejectionReason = &reason
	}
	return nil
}

// Cancel refuses a request whose payment has succeeded, even while its status
// still waits on settlement to move it to completed.
func (r *Request) Cancel(actor Actor, now time.Time) error {
	if r.IsPaid() {
		return internal.ErrInvalidTransition.WithMessage("request has already been paid")
	}
	if err := r.transition(StatusCancelled, actor, now); err != nil {
		return err
	}
	r.CancelledAt = &now
	return nil
}

// Complete is driven only by a successful settlement.
func (r *Request) Complete(now time.Time) error {
	if err := r.transition(StatusCompleted, ActorSettlement, now); err != nil {
		return err
	}
	r.PaymentStatus = PaymentStatusSucceeded
	if r.PaidAt == nil {
		r.PaidAt = &now
	}
	return nil
}

// SetPrice records the provider's quote. settlement is the currency the
// processor will charge in, original what the provider asked for.
func (r *Request) SetPrice(actor Actor, amount int64, settlement, original string, now time.Time) error {
	if actor != ActorProvider {
		return internal.ErrUnauthorizedAccess
	}
	if r.Status != StatusAccepted {
		return internal.ErrInvalidTransition.WithMessage("price can only be set on an accepted request")
	}
	if r.IsPaid() {
		return internal.ErrInvalidTransition.WithMessage("request has already been paid")
	}

	r.PriceAmount = &amount
	r.Currency = &settlement
	r.OriginalCurrency = &original
	r.UpdatedAt = now
	return nil
}

func (r *Request) Review(actor Actor, rating int, comment string, now time.Time) error {
	if actor != ActorClient {
		return internal.ErrUnauthorizedAccess
	}
	if r.Status != StatusCompleted {
		return internal.ErrInvalidTransition.WithMessage("only completed requests can be reviewed")
	}
	if r.ReviewedAt != nil {
		return internal.ErrInvalidTransition.WithMessage("request has already been reviewed")
	}

	r.ReviewedAt = &now
	r.ReviewRating = &rating
	if comment != "" {
		r.ReviewComment = &comment
	}
	r.UpdatedAt = now
	return nil
}

// CanDelete keeps accepted and completed requests, which carry payment history.
func (r *Request) CanDelete() bool {
	return r.Status == StatusPending || r.Status == StatusRejected || r.Status == StatusCancelled
}

func ToDataModel(r *Request) *requestDatamodel.ServiceRequest {
	return &requestDatamodel.ServiceRequest{
		ID:               r.ID,
		ClientID:         r.ClientID,
		ProviderID:       r.ProviderID,
		ServiceName:      r.ServiceName,
		Description:      r.Description,
		Location:         r.Location,
		Date:             r.Date,
		Time:             r.Time,
		Status:           string(r.Status),
		PriceAmount:      r.PriceAmount,
		Currency:         r.Currency,
		OriginalCurrency: r.OriginalCurrency,
		PaymentStatus:    r.PaymentStatus,
		PaymentIntentID:  r.PaymentIntentID,
		PaidAt:           r.PaidAt,
		AcceptedAt:       r.AcceptedAt,
		RejectedAt:       r.RejectedAt,
		RejectionReason:  r.RejectionReason,
		CancelledAt:      r.CancelledAt,
		ReviewedAt:       r.ReviewedAt,
		ReviewRating:     r.ReviewRating,
		ReviewComment:    r.ReviewComment,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func FromDataModel(r *requestDatamodel.ServiceRequest) *Request {
	return &Request{
		ID:               r.ID,
		ClientID:         r.ClientID,
		ProviderID:       r.ProviderID,
		ServiceName:      r.ServiceName,
		Description:      r.Description,
		Location:         r.Location,
		Date:             r.Date,
		Time:             r.Time,
		Status:           Status(r.Status),
		PriceAmount:      r.PriceAmount,
		Currency:         r.Currency,
		OriginalCurrency: r.OriginalCurrency,
		PaymentStatus:    r.PaymentStatus,
		PaymentIntentID:  r.PaymentIntentID,
		PaidAt:           r.PaidAt,
		AcceptedAt:       r.AcceptedAt,
		RejectedAt:       r.RejectedAt,
		RejectionReason:  r.RejectionReason,
		CancelledAt:      r.CancelledAt,
		ReviewedAt:       r.ReviewedAt,
		ReviewRating:     r.ReviewRating,
		ReviewComment:    r.ReviewComment,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func FromDataModelSlice(rows []*requestDatamodel.ServiceRequest) []*Request {
	result := make([]*Request, len(rows))
	for i, row := range rows {
		result[i] = FromDataModel(row)
	}
	return result
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r *Request) Clone() *Request {
	cp := *r
	cp.PriceAmount = cloneInt64(r.PriceAmount)
	cp.Currency = cloneString(r.Currency)
	cp.OriginalCurrency = cloneString(r.OriginalCurrency)
	cp.PaymentIntentID = cloneString(r.PaymentIntentID)
	cp.PaidAt = cloneTime(r.PaidAt)
	cp.AcceptedAt = cloneTime(r.AcceptedAt)
	cp.RejectedAt = cloneTime(r.RejectedAt)
	cp.RejectionReason = cloneString(r.RejectionReason)
	cp.CancelledAt = cloneTime(r.CancelledAt)
	cp.ReviewedAt = cloneTime(r.ReviewedAt)
	cp.ReviewComment = cloneString(r.ReviewComment)
	if r.ReviewRating != nil {
		v := *r.ReviewRating
		cp.ReviewRating = &v
	}
	return &cp
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
