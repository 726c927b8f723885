// File: internal/portal/records_test.go
package portal

import "testing"

func TestExtractCorrelationIDs(t *testing.T) {
	t.Run("upstream casing", func(t *testing.T) {
		ids := ExtractCorrelationIDs(map[string]any{
			"MerchantRequestID": "m-1",
			"CheckoutRequestID": "ws_CO_1",
			"ResponseCode":      "0",
		})
		if ids.MerchantRequestID != "m-1" || ids.CheckoutRequestID != "ws_CO_1" {
			t.Errorf("got %+v", ids)
		}
	})

	t.Run("snake case", func(t *testing.T) {
		ids := ExtractCorrelationIDs(map[string]any{
			"merchant_request_id": "m-2",
			"checkout_request_id": "ws_CO_2",
		})
		if ids.MerchantRequestID != "m-2" || ids.CheckoutRequestID != "ws_CO_2" {
			t.Errorf("got %+v", ids)
		}
	})

	t.Run("non-object body", func(t *testing.T) {
		if ids := ExtractCorrelationIDs([]any{"x"}); !ids.Empty() {
			t.Errorf("got %+v, want empty", ids)
		}
		if ids := ExtractCorrelationIDs(nil); !ids.Empty() {
			t.Errorf("got %+v, want empty", ids)
		}
	})

	t.Run("blank values count as absent", func(t *testing.T) {
		ids := ExtractCorrelationIDs(map[string]any{"MerchantRequestID": "  "})
		if !ids.Empty() {
			t.Errorf("got %+v, want empty", ids)
		}
	})
}

func TestResultRecordMatches(t *testing.T) {
	rec := ResultRecord{MerchantRequestID: "m-1", CheckoutRequestID: "ws_CO_1"}

	cases := []struct {
		name string
		ids  CorrelationIDs
		want bool
	}{
		{"merchant id alone", CorrelationIDs{MerchantRequestID: "m-1"}, true},
		{"checkout id alone", CorrelationIDs{CheckoutRequestID: "ws_CO_1"}, true},
		{"either suffices", CorrelationIDs{MerchantRequestID: "other", CheckoutRequestID: "ws_CO_1"}, true},
		{"neither matches", CorrelationIDs{MerchantRequestID: "x", CheckoutRequestID: "y"}, false},
		{"empty ids never match", CorrelationIDs{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rec.Matches(tc.ids); got != tc.want {
				t.Errorf("Matches(%+v) = %v, want %v", tc.ids, got, tc.want)
			}
		})
	}

	t.Run("empty record field does not match empty id", func(t *testing.T) {
		bare := ResultRecord{CheckoutRequestID: "ws_CO_9"}
		if bare.Matches(CorrelationIDs{MerchantRequestID: "m-1"}) {
			t.Error("record with empty merchant id matched a merchant-only query")
		}
	})
}

func TestResultRecords(t *testing.T) {
	t.Run("wrapped listing", func(t *testing.T) {
		recs := ResultRecords(map[string]any{"results": []any{
			map[string]any{"merchant_request_id": "m-1", "amount": float64(10)},
			"not an object",
			map[string]any{"CheckoutRequestID": "ws_CO_2"},
		}})
		if len(recs) != 2 {
			t.Fatalf("len = %d, want 2 (non-objects dropped)", len(recs))
		}
		if recs[0].MerchantRequestID != "m-1" {
			t.Errorf("recs[0] = %+v", recs[0])
		}
		if recs[1].CheckoutRequestID != "ws_CO_2" {
			t.Errorf("recs[1] = %+v", recs[1])
		}
		if recs[0].Fields["amount"] != float64(10) {
			t.Errorf("Fields lost: %v", recs[0].Fields)
		}
	})

	t.Run("bare array", func(t *testing.T) {
		recs := ResultRecords([]any{map[string]any{"merchant_request_id": "m-3"}})
		if len(recs) != 1 || recs[0].MerchantRequestID != "m-3" {
			t.Errorf("got %+v", recs)
		}
	})

	t.Run("unusable bodies", func(t *testing.T) {
		if recs := ResultRecords(nil); recs != nil {
			t.Errorf("nil body gave %v", recs)
		}
		if recs := ResultRecords(map[string]any{"results": "nope"}); recs != nil {
			t.Errorf("non-array results gave %v", recs)
		}
	})
}

func TestStatusMessage(t *testing.T) {
	cases := []struct {
		name string
		body any
		want string
	}{
		{"error key", map[string]any{"error": "Invalid credentials"}, "Invalid credentials"},
		{"status message key", map[string]any{"status_message": "Batch accepted for processing"}, "Batch accepted for processing"},
		{"upstream description", map[string]any{"ResponseDescription": "Success"}, "Success"},
		{"nested request", map[string]any{"payment_request": map[string]any{"ResultDesc": "Processed"}}, "Processed"},
		{"string body", "plain failure", "plain failure"},
		{"nil body", nil, ""},
		{"nothing usable", map[string]any{"count": float64(3)}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusMessage(tc.body); got != tc.want {
				t.Errorf("StatusMessage = %q, want %q", got, tc.want)
			}
		})
	}
}
