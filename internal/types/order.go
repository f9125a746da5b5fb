// internal/types/order.go
package types

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a single trade-execution request tracked through its lifecycle.
// ID and Amount never change after NewOrder; the stage is only moved by
// Advance and Fail.
type Order struct {
	ID        string
	Amount    decimal.Decimal
	CreatedAt time.Time

	stage atomic.Int32
}

// NewOrder creates an order in StagePending.
func NewOrder(id string, amount decimal.Decimal) *Order {
	o := &Order{
		ID:        id,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
	o.stage.Store(int32(StagePending))
	return o
}

// Stage returns the current lifecycle stage.
func (o *Order) Stage() Stage {
	return Stage(o.stage.Load())
}

// Advance moves the order to next. Only the immediate successor on the
// success path is accepted; use Fail for the side exit.
func (o *Order) Advance(next Stage) error {
	for {
		cur := o.Stage()
		want, ok := cur.Next()
		if !ok || want != next {
			return TradingError{
				Code:    ErrInvalidTransition,
				Message: fmt.Sprintf("cannot move from %s to %s", cur, next),
			}
		}
		if o.stage.CompareAndSwap(int32(cur), int32(next)) {
			return nil
		}
	}
}

// Fail moves the order to StageFailed from any non-terminal stage.
// It reports the stage the order was in and whether the move happened.
func (o *Order) Fail() (Stage, bool) {
	for {
		cur := o.Stage()
		if cur.IsTerminal() {
			return cur, false
		}
		if o.stage.CompareAndSwap(int32(cur), int32(StageFailed)) {
			return cur, true
		}
	}
}

func (o *Order) String() string {
	return fmt.Sprintf("order %s amount=%s stage=%s", o.ID, o.Amount.String(), o.Stage())
}

// Quote is one venue's answer during route selection.
type Quote struct {
	Venue string
	Price decimal.Decimal
}

// RouteDecision is the venue and price chosen for an order.
type RouteDecision struct {
	Venue  string
	Price  decimal.Decimal
	Quotes []Quote // every candidate that answered, in configuration order
}

// Transaction is a built, not yet confirmed, venue transaction.
type Transaction struct {
	OrderID string
	Venue   string
	Amount  decimal.Decimal
	Price   decimal.Decimal
	BuiltAt time.Time
}

// Receipt is the venue's acknowledgement of a submitted transaction.
type Receipt struct {
	TxRef      string
	FinalPrice decimal.Decimal
}

// Acceptance is the synchronous answer to an intake request.
type Acceptance struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusAccepted is the Acceptance status for every admitted order.
const StatusAccepted = "accepted"
