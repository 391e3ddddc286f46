package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the clickstream action recorded for a product.
type EventType string

const (
	EventView           EventType = "view"
	EventCart           EventType = "cart"
	EventRemoveFromCart EventType = "remove_from_cart"
	EventPurchase       EventType = "purchase"
)

// Event is the canonical clickstream record persisted by the event store.
// (UserID, SortKey) is unique per write; SortKey starts with the formatted TxnTimestamp.
type Event struct {
	UserID       string          `json:"user_id"`
	TxnTimestamp time.Time       `json:"txn_timestamp"`
	SortKey      string          `json:"sort_key"`
	EventTime    time.Time       `json:"event_time"`
	EventType    EventType       `json:"event_type"`
	ProductID    string          `json:"product_id"`
	CategoryID   string          `json:"category_id"`
	CategoryCode string          `json:"category_code"`
	Brand        string          `json:"brand"`
	Price        decimal.Decimal `json:"price"`
	UserSession  string          `json:"user_session"`
}

// Report holds point-in-time aggregate statistics for one brand.
type Report struct {
	Brand       string          `json:"brand"`
	Views       int64           `json:"views"`
	Purchases   int64           `json:"purchases"`
	TotalSales  decimal.Decimal `json:"total_sales"`
	GeneratedAt time.Time       `json:"timestamp"`
}

// MarshalJSON renders total_sales as a JSON number carrying the exact decimal digits.
func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Brand       string      `json:"brand"`
		Views       int64       `json:"views"`
		Purchases   int64       `json:"purchases"`
		TotalSales  json.Number `json:"total_sales"`
		GeneratedAt time.Time   `json:"timestamp"`
	}{
		Brand:       r.Brand,
		Views:       r.Views,
		Purchases:   r.Purchases,
		TotalSales:  json.Number(r.TotalSales.String()),
		GeneratedAt: r.GeneratedAt,
	})
}

// Alert is a fire-and-forget notification about a suspected burst.
type Alert struct {
	UserID      string    `json:"user_id"`
	DetectedAt  time.Time `json:"detected_at"`
	WindowCount int       `json:"window_count"`
	Message     string    `json:"message"`
}

// NewAlert builds the burst alert for userID.
func NewAlert(userID string, at time.Time, count int) Alert {
	return Alert{
		UserID:      userID,
		DetectedAt:  at,
		WindowCount: count,
		Message:     fmt.Sprintf("Potential DDoS detected for user %s (%d events in window)", userID, count),
	}
}

// Subject is the notification subject line for the alert.
func (a Alert) Subject() string {
	return "DDoS Alert - " + a.DetectedAt.UTC().Format(time.RFC3339Nano)
}
