package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/repositories"
)

var errDraftNotFound = errors.New("draft not found")

// DraftRepository keeps checkout drafts in process memory. It backs local runs and tests.
type DraftRepository struct {
	mu     sync.RWMutex
	drafts map[string]domain.CheckoutDraft
	now    func() time.Time
}

var _ repositories.DraftRepository = (*DraftRepository)(nil)

// NewDraftRepository constructs an empty store. A nil clock uses time.Now.
func NewDraftRepository(clock func() time.Time) *DraftRepository {
	if clock == nil {
		clock = time.Now
	}
	return &DraftRepository{drafts: make(map[string]domain.CheckoutDraft), now: clock}
}

func (r *DraftRepository) Save(ctx context.Context, draft domain.CheckoutDraft) error {
	userID := strings.TrimSpace(draft.UserID)
	if userID == "" {
		return errors.New("memory draft repository: user id is required")
	}
	draft.UserID = userID
	r.mu.Lock()
	r.drafts[userID] = draft
	r.mu.Unlock()
	return nil
}

func (r *DraftRepository) Load(ctx context.Context, userID string) (domain.CheckoutDraft, error) {
	userID = strings.TrimSpace(userID)
	r.mu.RLock()
	draft, ok := r.drafts[userID]
	r.mu.RUnlock()
	if !ok || draft.Expired(r.now()) {
		return domain.CheckoutDraft{}, repositories.NewStoreError("memory.drafts.load", repositories.StoreErrorNotFound, errDraftNotFound)
	}
	return draft, nil
}

func (r *DraftRepository) Clear(ctx context.Context, userID string) error {
	r.mu.Lock()
	delete(r.drafts, strings.TrimSpace(userID))
	r.mu.Unlock()
	return nil
}

// PurgeExpired deletes up to limit expired drafts, oldest expiry first. A non-positive limit purges all.
func (r *DraftRepository) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.CheckoutDraft
	for _, draft := range r.drafts {
		if draft.Expired(now) {
			expired = append(expired, draft)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, draft := range expired {
		delete(r.drafts, draft.UserID)
	}
	return len(expired), nil
}
