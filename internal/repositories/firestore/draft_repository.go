package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const draftCollection = "checkoutDrafts"

// DraftRepository keeps one checkout draft per shopper under checkoutDrafts/{userId}.
type DraftRepository struct {
	provider *pfirestore.Provider
	drafts   *pfirestore.Collection[draftDocument]
	now      func() time.Time
}

var _ repositories.DraftRepository = (*DraftRepository)(nil)

// NewDraftRepository constructs a Firestore-backed draft repository. A nil clock uses time.Now.
func NewDraftRepository(provider *pfirestore.Provider, clock func() time.Time) (*DraftRepository, error) {
	if provider == nil {
		return nil, errors.New("draft repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &DraftRepository{
		provider: provider,
		drafts:   pfirestore.NewCollection[draftDocument](provider, draftCollection),
		now:      clock,
	}, nil
}

func (r *DraftRepository) Save(ctx context.Context, draft domain.CheckoutDraft) error {
	uid := strings.TrimSpace(draft.UserID)
	if uid == "" {
		return errors.New("draft repository: user id is required")
	}
	draft.UserID = uid
	_, err := r.drafts.Set(ctx, uid, draftToDocument(draft))
	return err
}

// Load returns the stored draft. Expired drafts are reported as not found even before they are purged.
func (r *DraftRepository) Load(ctx context.Context, userID string) (domain.CheckoutDraft, error) {
	doc, err := r.drafts.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.CheckoutDraft{}, err
	}
	draft, err := doc.Data.toDomain(doc.ID)
	if err != nil {
		return domain.CheckoutDraft{}, err
	}
	if draft.Expired(r.now()) {
		return domain.CheckoutDraft{}, pfirestore.NotFound("checkoutDrafts.load", fmt.Errorf("draft for %s expired", doc.ID))
	}
	return draft, nil
}

func (r *DraftRepository) Clear(ctx context.Context, userID string) error {
	return r.drafts.Delete(ctx, strings.TrimSpace(userID))
}

// PurgeExpired deletes up to limit drafts whose expiry is at or before now, oldest expiry first.
func (r *DraftRepository) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	docs, err := r.drafts.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("expiresAt", "<=", now.UTC()).OrderBy("expiresAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	batch := client.Batch()
	for _, doc := range docs {
		ref, err := r.drafts.Doc(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		batch.Delete(ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, pfirestore.WrapError("checkoutDrafts.purge", err)
	}
	return len(docs), nil
}

type draftDocument struct {
	CartID    string             `firestore:"cartId"`
	Form      checkoutFormFields `firestore:"form"`
	SavedAt   time.Time          `firestore:"savedAt"`
	ExpiresAt time.Time          `firestore:"expiresAt"`
}

type checkoutFormFields struct {
	FullName         string `firestore:"fullName"`
	Email            string `firestore:"email"`
	PhoneNumber      string `firestore:"phoneNumber"`
	Address          string `firestore:"address"`
	City             string `firestore:"city"`
	PostalCode       string `firestore:"postalCode"`
	Country          string `firestore:"country"`
	IsPickup         bool   `firestore:"isPickup"`
	DeliveryLocation string `firestore:"deliveryLocation"`
	DeliveryFee      string `firestore:"deliveryFee"`
	PaymentMethod    string `firestore:"paymentMethod"`
	OrderNotes       string `firestore:"orderNotes,omitempty"`
}

func draftToDocument(draft domain.CheckoutDraft) draftDocument {
	f := draft.Form
	return draftDocument{
		CartID: draft.CartID,
		Form: checkoutFormFields{
			FullName:         f.FullName,
			Email:            f.Email,
			PhoneNumber:      f.PhoneNumber,
			Address:          f.Address,
			City:             f.City,
			PostalCode:       f.PostalCode,
			Country:          f.Country,
			IsPickup:         f.IsPickup,
			DeliveryLocation: f.DeliveryLocation,
			DeliveryFee:      formatMoney(f.DeliveryFee),
			PaymentMethod:    string(f.PaymentMethod),
			OrderNotes:       f.OrderNotes,
		},
		SavedAt:   draft.SavedAt.UTC(),
		ExpiresAt: draft.ExpiresAt.UTC(),
	}
}

func (d draftDocument) toDomain(userID string) (domain.CheckoutDraft, error) {
	fee, err := parseMoney(d.Form.DeliveryFee)
	if err != nil {
		return domain.CheckoutDraft{}, fmt.Errorf("checkoutDrafts: %s delivery fee: %w", userID, err)
	}
	f := d.Form
	return domain.CheckoutDraft{
		UserID: userID,
		CartID: d.CartID,
		Form: domain.CheckoutForm{
			FullName:         f.FullName,
			Email:            f.Email,
			PhoneNumber:      f.PhoneNumber,
			Address:          f.Address,
			City:             f.City,
			PostalCode:       f.PostalCode,
			Country:          f.Country,
			IsPickup:         f.IsPickup,
			DeliveryLocation: f.DeliveryLocation,
			DeliveryFee:      fee,
			PaymentMethod:    domain.PaymentMethod(f.PaymentMethod),
			OrderNotes:       f.OrderNotes,
		},
		SavedAt:   d.SavedAt,
		ExpiresAt: d.ExpiresAt,
	}, nil
}
