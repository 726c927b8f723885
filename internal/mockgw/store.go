// File: internal/mockgw/store.go
package mockgw

import (
	"context"
	"sync"
	"time"
)

// CallbackRecord is one delivered gateway callback. The identifier field
// names mirror the upstream payload so dashboard pollers can correlate them.
type CallbackRecord struct {
	ID                 string    `json:"id"`
	Caller             string    `json:"caller"`
	MerchantRequestID  string    `json:"merchant_request_id"`
	CheckoutRequestID  string    `json:"checkout_request_id"`
	ResultCode         int       `json:"result_code"`
	ResultDescription  string    `json:"result_description"`
	Amount             int64     `json:"amount"`
	MpesaReceiptNumber string    `json:"mpesa_receipt_number"`
	PhoneNumber        string    `json:"phone_number"`
	CreatedAt          time.Time `json:"created_at"`
}

type Transaction struct {
	ID                 string    `json:"id"`
	MerchantRequestID  string    `json:"merchant_request_id"`
	CheckoutRequestID  string    `json:"checkout_request_id"`
	Amount             int64     `json:"amount"`
	PhoneNumber        string    `json:"phone_number"`
	MpesaReceiptNumber string    `json:"mpesa_receipt_number"`
	Status             string    `json:"status"` // successful | failed
	CreatedAt          time.Time `json:"created_at"`
}

type WebhookRegistration struct {
	ShortCode       string    `json:"short_code"`
	ConfirmationURL string    `json:"confirmation_url"`
	ValidationURL   string    `json:"validation_url"`
	CreatedAt       time.Time `json:"created_at"`
}

type BulkBatch struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // b2c | b2b
	Count     int       `json:"count"`
	Total     int64     `json:"total"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists the sandbox gateway's records. Listings return newest first.
type Store interface {
	SaveCallback(ctx context.Context, rec CallbackRecord) error
	ListCallbacks(ctx context.Context, limit int) ([]CallbackRecord, error)
	SaveTransaction(ctx context.Context, tx Transaction) error
	ListTransactions(ctx context.Context, limit int) ([]Transaction, error)
	SaveRegistration(ctx context.Context, reg WebhookRegistration) error
	SaveBatch(ctx context.Context, batch BulkBatch) error
}

var _ Store = (*MemStore)(nil)

// MemStore is the default in-process store.
type MemStore struct {
	mu            sync.Mutex
	callbacks     []CallbackRecord
	transactions  []Transaction
	registrations []WebhookRegistration
	batches       []BulkBatch
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) SaveCallback(_ context.Context, rec CallbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, rec)
	return nil
}

func (s *MemStore) ListCallbacks(_ context.Context, limit int) ([]CallbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallbackRecord, 0, min(limit, len(s.callbacks)))
	for i := len(s.callbacks) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.callbacks[i])
	}
	return out, nil
}

func (s *MemStore) SaveTransaction(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, tx)
	return nil
}

func (s *MemStore) ListTransactions(_ context.Context, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transaction, 0, min(limit, len(s.transactions)))
	for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.transactions[i])
	}
	return out, nil
}

func (s *MemStore) SaveRegistration(_ context.Context, reg WebhookRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations = append(s.registrations, reg)
	return nil
}

func (s *MemStore) SaveBatch(_ context.Context, batch BulkBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}
