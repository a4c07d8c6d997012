package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/hanko-field/checkout/internal/domain"
	pfirestore "github.com/hanko-field/checkout/internal/platform/firestore"
	"github.com/hanko-field/checkout/internal/repositories"
)

const profileCollection = "profiles"

// ProfileRepository reads shopper profiles keyed by Firebase UID.
type ProfileRepository struct {
	profiles *pfirestore.Collection[profileDocument]
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository constructs a Firestore-backed profile repository.
func NewProfileRepository(provider *pfirestore.Provider) (*ProfileRepository, error) {
	if provider == nil {
		return nil, errors.New("profile repository requires firestore provider")
	}
	return &ProfileRepository{profiles: pfirestore.NewCollection[profileDocument](provider, profileCollection)}, nil
}

func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Profile{}, errors.New("profile repository: user id is required")
	}
	doc, err := r.profiles.Get(ctx, uid)
	if err != nil {
		return domain.Profile{}, err
	}
	d := doc.Data
	return domain.Profile{
		UserID:           doc.ID,
		FirstName:        strings.TrimSpace(d.FirstName),
		LastName:         strings.TrimSpace(d.LastName),
		Email:            strings.TrimSpace(d.Email),
		PhoneNumber:      strings.TrimSpace(d.PhoneNumber),
		Address:          strings.TrimSpace(d.Address),
		City:             strings.TrimSpace(d.City),
		PostalCode:       strings.TrimSpace(d.PostalCode),
		Country:          strings.TrimSpace(d.Country),
		DeliveryLocation: strings.TrimSpace(d.DeliveryLocation),
	}, nil
}

type profileDocument struct {
	FirstName        string `firestore:"firstName"`
	LastName         string `firestore:"lastName"`
	Email            string `firestore:"email"`
	PhoneNumber      string `firestore:"phoneNumber,omitempty"`
	Address          string `firestore:"address,omitempty"`
	City             string `firestore:"city,omitempty"`
	PostalCode       string `firestore:"postalCode,omitempty"`
	Country          string `firestore:"country,omitempty"`
	DeliveryLocation string `firestore:"deliveryLocation,omitempty"`
}
