package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/yarmarok-dev/api/internal/domain"
	pfirestore "github.com/yarmarok-dev/api/internal/platform/firestore"
	"github.com/yarmarok-dev/api/internal/repositories"
)

const userCollection = "users"

// UserRepository reads the identity projection maintained by the accounts
// subsystem. The settlement engine never writes user records.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user reader.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base, provider: provider}, nil
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// FindByID loads one user by id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, errors.New("user id is required")
	}

	ref, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	var snap *firestore.DocumentSnapshot
	if tx, ok := txFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.User{}, pfirestore.WrapError("users.get", err)
	}

	var doc userDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.User{}, pfirestore.WrapError("users.get", err)
	}

	user := toDomainUser(snap.Ref.ID, doc)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = snap.CreateTime
	}
	return user, nil
}

type userDocument struct {
	DisplayName   string    `firestore:"displayName"`
	WalletAddress string    `firestore:"walletAddress,omitempty"`
	Roles         []string  `firestore:"roles"`
	IsActive      bool      `firestore:"isActive"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

func toDomainUser(id string, doc userDocument) domain.User {
	return domain.User{
		ID:            id,
		DisplayName:   doc.DisplayName,
		WalletAddress: strings.TrimSpace(doc.WalletAddress),
		Roles:         normaliseRoles(doc.Roles),
		IsActive:      doc.IsActive,
		CreatedAt:     doc.CreatedAt,
	}
}

func normaliseRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	uniq := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		trimmed := strings.ToLower(strings.TrimSpace(role))
		if trimmed == "" {
			continue
		}
		uniq[trimmed] = struct{}{}
	}
	if len(uniq) == 0 {
		return nil
	}
	normalised := make([]string, 0, len(uniq))
	for role := range uniq {
		normalised = append(normalised, role)
	}
	sort.Strings(normalised)
	return normalised
}
