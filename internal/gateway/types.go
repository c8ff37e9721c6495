package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexString decodes identifiers the PG API returns as either a JSON number or a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}

func (f FlexString) String() string { return string(f) }

type CustomerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerPhone string `json:"customer_phone"`
}

type OrderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
	NotifyURL string `json:"notify_url,omitempty"`
}

type CreateOrderRequest struct {
	OrderID         string          `json:"order_id"`
	OrderAmount     json.Number     `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails CustomerDetails `json:"customer_details"`
	OrderMeta       OrderMeta       `json:"order_meta"`
}

// Order is the subset of the PG order entity the service reads.
type Order struct {
	CFOrderID        FlexString      `json:"cf_order_id"`
	OrderID          string          `json:"order_id"`
	OrderStatus      string          `json:"order_status"`
	OrderAmount      json.Number     `json:"order_amount"`
	OrderCurrency    string          `json:"order_currency"`
	PaymentSessionID string          `json:"payment_session_id"`
	Raw              json.RawMessage `json:"-"`
}

const RefundSpeedStandard = "STANDARD"

type RefundRequest struct {
	RefundAmount json.Number `json:"refund_amount"`
	RefundID     string      `json:"refund_id"`
	RefundSpeed  string      `json:"refund_speed"`
	RefundNote   string      `json:"refund_note,omitempty"`
}

type Refund struct {
	CFRefundID   FlexString      `json:"cf_refund_id"`
	RefundID     string          `json:"refund_id"`
	OrderID      string          `json:"order_id"`
	RefundStatus string          `json:"refund_status"`
	Raw          json.RawMessage `json:"-"`
}

// AmountNumber renders a decimal string as a JSON number literal.
func AmountNumber(amount string) json.Number {
	if _, err := strconv.ParseFloat(amount, 64); err != nil {
		return json.Number("0")
	}
	return json.Number(amount)
}
