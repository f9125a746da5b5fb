package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// PriceDecimals is the precision used for prices on the wire.
const PriceDecimals = 2

// StatusEvent is the notification emitted after each stage transition.
// Only the fields relevant to Stage are serialized.
type StatusEvent struct {
	OrderID    string
	Stage      Stage
	Venue      string
	Price      decimal.Decimal
	TxRef      string
	FinalPrice decimal.Decimal
	Error      string
}

type statusEventJSON struct {
	OrderID    string      `json:"orderId"`
	Status     string      `json:"status"`
	Venue      string      `json:"venue,omitempty"`
	Price      json.Number `json:"price,omitempty"`
	TxRef      string      `json:"txRef,omitempty"`
	FinalPrice json.Number `json:"finalPrice,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// MarshalJSON renders prices as JSON numbers with PriceDecimals places.
func (e StatusEvent) MarshalJSON() ([]byte, error) {
	out := statusEventJSON{
		OrderID: e.OrderID,
		Status:  e.Stage.String(),
	}
	switch e.Stage {
	case StageBuilding:
		out.Venue = e.Venue
		out.Price = json.Number(e.Price.StringFixed(PriceDecimals))
	case StageConfirmed:
		out.TxRef = e.TxRef
		out.FinalPrice = json.Number(e.FinalPrice.StringFixed(PriceDecimals))
	case StageFailed:
		out.Error = e.Error
		if out.Error == "" {
			out.Error = "transaction failed"
		}
	}
	return json.Marshal(out)
}

// RoutingEvent is emitted when route selection starts.
func RoutingEvent(orderID string) StatusEvent {
	return StatusEvent{OrderID: orderID, Stage: StageRouting}
}

// BuildingEvent carries the chosen venue and price.
func BuildingEvent(orderID string, route RouteDecision) StatusEvent {
	return StatusEvent{OrderID: orderID, Stage: StageBuilding, Venue: route.Venue, Price: route.Price}
}

// SubmittedEvent is emitted once the transaction is dispatched.
func SubmittedEvent(orderID string) StatusEvent {
	return StatusEvent{OrderID: orderID, Stage: StageSubmitted}
}

// ConfirmedEvent carries the transaction reference and final price.
func ConfirmedEvent(orderID string, receipt Receipt) StatusEvent {
	return StatusEvent{OrderID: orderID, Stage: StageConfirmed, TxRef: receipt.TxRef, FinalPrice: receipt.FinalPrice}
}

// FailedEvent carries the observer-facing message for err.
func FailedEvent(orderID string, err error) StatusEvent {
	return StatusEvent{OrderID: orderID, Stage: StageFailed, Error: PublicMessage(err)}
}
