// File: internal/mockgw/handlers.go
package mockgw

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// parseLimit reads the ?limit= query parameter, defaulting to 200 and
// capping at 500.
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 200
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 200
	}
	if n > 500 {
		return 500
	}
	return n
}

// ===== auth family =====

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     "csrftoken",
		Value:    token,
		Path:     "/",
		HttpOnly: false, // the dashboard reads it back as a header
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"csrfToken": token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing username or password"})
		return
	}

	switch {
	case username == s.cfg.StaffUsername && body.Password == s.cfg.StaffPassword:
		if _, err := s.auth.MintSession(w, username, true); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "session mint failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "username": username, "is_staff": true})
	case username == "viewer" && body.Password == "viewer":
		// Known account without staff standing.
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "Please sign in with a staff account to continue."})
	default:
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid credentials"})
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.SessionFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      claims.Username,
		"is_staff":      claims.Staff,
	})
}

// ===== token issuance =====

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	if r.PostFormValue("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}
	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if clientID == "" || clientID != s.cfg.ClientID || clientSecret != s.cfg.ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}
	token, err := s.auth.MintAccessToken(clientID, time.Hour)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "token mint failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// ===== payments =====

func (s *Server) handleSTKPush(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount      int64  `json:"amount"`
		PhoneNumber string `json:"phone_number"`
		PartyA      string `json:"party_a"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	if body.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "amount must be positive"})
		return
	}
	phone := strings.TrimSpace(body.PhoneNumber)
	if phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "phone_number is required"})
		return
	}
	// PartyA overrides the debited account; it defaults to the prompted phone.
	party := strings.TrimSpace(body.PartyA)
	if party == "" {
		party = phone
	}

	merchantRequestID := uuid.NewString()
	checkoutRequestID := "ws_CO_" + uuid.NewString()
	s.scheduleCallback(merchantRequestID, checkoutRequestID, body.Amount, party)

	writeJSON(w, http.StatusOK, map[string]any{
		"MerchantRequestID":   merchantRequestID,
		"CheckoutRequestID":   checkoutRequestID,
		"ResponseCode":        "0",
		"ResponseDescription": "Success. Request accepted for processing",
		"CustomerMessage":     "Success. Request accepted for processing",
	})
}

// scheduleCallback plays the part of the upstream webhook: after the
// configured delay the settled record becomes visible to pollers.
func (s *Server) scheduleCallback(merchantRequestID, checkoutRequestID string, amount int64, phone string) {
	delay := s.cfg.CallbackDelay
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		receipt := strings.ToUpper(ulid.Make().String()[16:])
		now := time.Now().UTC()
		cb := CallbackRecord{
			ID:                 ulid.Make().String(),
			Caller:             "STK Push Callback",
			MerchantRequestID:  merchantRequestID,
			CheckoutRequestID:  checkoutRequestID,
			ResultCode:         0,
			ResultDescription:  "The service request is processed successfully.",
			Amount:             amount,
			MpesaReceiptNumber: receipt,
			PhoneNumber:        phone,
			CreatedAt:          now,
		}
		if err := s.store.SaveCallback(ctx, cb); err != nil {
			s.log.Error().Err(err).Msg("save callback")
			return
		}
		tx := Transaction{
			ID:                 ulid.Make().String(),
			MerchantRequestID:  merchantRequestID,
			CheckoutRequestID:  checkoutRequestID,
			Amount:             amount,
			PhoneNumber:        phone,
			MpesaReceiptNumber: receipt,
			Status:             "successful",
			CreatedAt:          now,
		}
		if err := s.store.SaveTransaction(ctx, tx); err != nil {
			s.log.Error().Err(err).Msg("save transaction")
		}
	})
}

func (s *Server) handleRegisterC2B(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConfirmationURL string `json:"confirmation_url"`
		ValidationURL   string `json:"validation_url"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	if body.ConfirmationURL == "" || body.ValidationURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "confirmation_url and validation_url are required"})
		return
	}
	reg := WebhookRegistration{
		ShortCode:       s.cfg.ShortCode,
		ConfirmationURL: body.ConfirmationURL,
		ValidationURL:   body.ValidationURL,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.SaveRegistration(r.Context(), reg); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ShortCode":           reg.ShortCode,
		"ResponseDescription": "Success",
	})
}

func (s *Server) handleBulk(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Items []struct {
				Amount      int64  `json:"amount"`
				PhoneNumber string `json:"phone_number"`
				ShortCode   string `json:"short_code"`
				Remarks     string `json:"remarks"`
			} `json:"items"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
			return
		}
		if len(body.Items) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "items must not be empty"})
			return
		}
		var total int64
		for _, it := range body.Items {
			if it.Amount <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "item amounts must be positive"})
				return
			}
			total += it.Amount
		}
		batch := BulkBatch{
			ID:        ulid.Make().String(),
			Kind:      kind,
			Count:     len(body.Items),
			Total:     total,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.SaveBatch(r.Context(), batch); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"batch":          batch,
			"status_message": "Batch accepted for processing",
		})
	}
}

// ===== listings =====

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListTransactions(r.Context(), parseLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": rows})
}

func (s *Server) handleCallbacks(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListCallbacks(r.Context(), parseLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []CallbackRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": rows})
}
