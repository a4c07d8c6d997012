package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const transactionCollection = "paymentTransactions"

// TransactionRepository records push-payment callbacks keyed by the gateway checkout request id.
// Replayed callbacks overwrite the previous record.
type TransactionRepository struct {
	transactions *pfirestore.Collection[transactionDocument]
}

var _ repositories.PaymentTransactionRepository = (*TransactionRepository)(nil)

// NewTransactionRepository constructs a Firestore-backed payment transaction repository.
func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	return &TransactionRepository{
		transactions: pfirestore.NewCollection[transactionDocument](provider, transactionCollection),
	}, nil
}

func (r *TransactionRepository) RecordTransaction(ctx context.Context, txn domain.PaymentTransaction) error {
	id := strings.TrimSpace(txn.CheckoutRequestID)
	if id == "" {
		return errors.New("transaction repository: checkout request id is required")
	}
	_, err := r.transactions.Set(ctx, id, transactionDocument{
		MerchantRequestID: txn.MerchantRequestID,
		ReceiptNumber:     txn.ReceiptNumber,
		PhoneNumber:       txn.PhoneNumber,
		Amount:            formatMoney(txn.Amount),
		ResultCode:        txn.ResultCode,
		ResultDesc:        txn.ResultDesc,
		Status:            string(txn.Status),
		ReceivedAt:        txn.ReceivedAt.UTC(),
	})
	return err
}

func (r *TransactionRepository) FindByCheckoutID(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error) {
	doc, err := r.transactions.Get(ctx, strings.TrimSpace(checkoutRequestID))
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	amount, err := parseMoney(doc.Data.Amount)
	if err != nil {
		return domain.PaymentTransaction{}, fmt.Errorf("paymentTransactions: %s amount: %w", doc.ID, err)
	}
	d := doc.Data
	return domain.PaymentTransaction{
		CheckoutRequestID: doc.ID,
		MerchantRequestID: d.MerchantRequestID,
		ReceiptNumber:     d.ReceiptNumber,
		PhoneNumber:       d.PhoneNumber,
		Amount:            amount,
		ResultCode:        d.ResultCode,
		ResultDesc:        d.ResultDesc,
		Status:            domain.PaymentStatus(d.Status),
		ReceivedAt:        d.ReceivedAt,
	}, nil
}

type transactionDocument struct {
	MerchantRequestID string    `firestore:"merchantRequestId"`
	ReceiptNumber     string    `firestore:"receiptNumber,omitempty"`
	PhoneNumber       string    `firestore:"phoneNumber,omitempty"`
	Amount            string    `firestore:"amount"`
	ResultCode        int       `firestore:"resultCode"`
	ResultDesc        string    `firestore:"resultDesc"`
	Status            string    `firestore:"status"`
	ReceivedAt        time.Time `firestore:"receivedAt"`
}
