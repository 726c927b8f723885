// File: internal/portal/records.go
package portal

import (
	"fmt"
	"strings"
)

// CorrelationIDs is the identifier set extracted from an STK push initiation
// response. Either field may be empty; at least one non-empty field is
// required to start a poll session.
type CorrelationIDs struct {
	MerchantRequestID string
	CheckoutRequestID string
}

func (ids CorrelationIDs) Empty() bool {
	return ids.MerchantRequestID == "" && ids.CheckoutRequestID == ""
}

// ExtractCorrelationIDs reads the identifier fields from a loose initiation
// response body. The gateway proxies the upstream Daraja body verbatim, so
// both the PascalCase upstream keys and snake_case re-serializations occur.
func ExtractCorrelationIDs(body any) CorrelationIDs {
	obj, ok := body.(map[string]any)
	if !ok {
		return CorrelationIDs{}
	}
	return CorrelationIDs{
		MerchantRequestID: firstString(obj, "MerchantRequestID", "merchant_request_id"),
		CheckoutRequestID: firstString(obj, "CheckoutRequestID", "checkout_request_id"),
	}
}

// ResultRecord is one row from a results listing. Identifier fields are
// coerced at this boundary; everything else stays in Fields for display.
type ResultRecord struct {
	MerchantRequestID string
	CheckoutRequestID string
	Fields            map[string]any
}

// Matches reports whether the record settles the given identifier set.
// Matching is a logical OR across identifier names: a name participates only
// when it is non-empty on both sides, and any one equal pair is sufficient.
func (r ResultRecord) Matches(ids CorrelationIDs) bool {
	if ids.MerchantRequestID != "" && r.MerchantRequestID == ids.MerchantRequestID {
		return true
	}
	if ids.CheckoutRequestID != "" && r.CheckoutRequestID == ids.CheckoutRequestID {
		return true
	}
	return false
}

// ResultRecords coerces a results-listing body ({"results": [...]}, or a bare
// array) into records. Anything that is not an object is dropped.
func ResultRecords(body any) []ResultRecord {
	var rows []any
	switch v := body.(type) {
	case map[string]any:
		rows, _ = v["results"].([]any)
	case []any:
		rows = v
	}
	if len(rows) == 0 {
		return nil
	}
	out := make([]ResultRecord, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, ResultRecord{
			MerchantRequestID: firstString(obj, "merchant_request_id", "MerchantRequestID"),
			CheckoutRequestID: firstString(obj, "checkout_request_id", "CheckoutRequestID"),
			Fields:            obj,
		})
	}
	return out
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		}
	}
	return ""
}

// StatusMessage digs a human-readable message out of the loose response
// shapes the gateway and its upstream produce.
func StatusMessage(body any) string {
	if obj, ok := body.(map[string]any); ok {
		return pickMessage(obj, 0)
	}
	if body == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", body))
}

var messageKeys = []string{
	"status_message",
	"error",
	"ResultDesc",
	"ResponseDescription",
	"responseDescription",
	"CustomerMessage",
}

var nestedMessageKeys = []string{
	"payment_request", "paymentRequest", "request", "batch", "data", "result",
}

func pickMessage(obj map[string]any, depth int) string {
	if depth > 4 {
		return ""
	}
	for _, k := range messageKeys {
		if s, ok := obj[k].(string); ok {
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		}
	}
	for _, k := range nestedMessageKeys {
		if nested, ok := obj[k].(map[string]any); ok {
			if msg := pickMessage(nested, depth+1); msg != "" {
				return msg
			}
		}
	}
	return ""
}
