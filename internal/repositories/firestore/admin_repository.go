package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/steadfast-intl/api/internal/domain"
	pfirestore "github.com/steadfast-intl/api/internal/platform/firestore"
	"github.com/steadfast-intl/api/internal/repositories"
)

const adminCollection = "admins"

// AdminRepository persists back-office accounts within Firestore.
type AdminRepository struct {
	base     *pfirestore.BaseRepository[adminDocument]
	provider *pfirestore.Provider
}

// NewAdminRepository constructs a Firestore-backed admin repository.
func NewAdminRepository(provider *pfirestore.Provider) (*AdminRepository, error) {
	if provider == nil {
		return nil, errors.New("admin repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[adminDocument](provider, adminCollection, nil, nil)
	return &AdminRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the admin account, rejecting duplicate emails.
func (r *AdminRepository) Insert(ctx context.Context, admin domain.AdminUser) error {
	if r == nil || r.provider == nil {
		return errors.New("admin repository not initialised")
	}
	id := strings.TrimSpace(admin.ID)
	if id == "" {
		return errors.New("admin repository: admin id is required")
	}
	email := normaliseEmail(admin.Email)
	if email == "" {
		return errors.New("admin repository: email is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		query := client.Collection(adminCollection).Where("email", "==", email).Limit(1)
		snaps, err := tx.Documents(query).GetAll()
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if len(snaps) > 0 {
			return status.Errorf(codes.AlreadyExists, "admin with email %s already exists", email)
		}
		return tx.Create(client.Collection(adminCollection).Doc(id), encodeAdminDocument(admin))
	})
	if err != nil {
		return pfirestore.WrapError("admins.insert", err)
	}
	return nil
}

// Update replaces the admin document.
func (r *AdminRepository) Update(ctx context.Context, admin domain.AdminUser) error {
	if r == nil || r.base == nil {
		return errors.New("admin repository not initialised")
	}
	id := strings.TrimSpace(admin.ID)
	if id == "" {
		return errors.New("admin repository: admin id is required")
	}
	if _, err := r.base.Set(ctx, id, encodeAdminDocument(admin)); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single admin account.
func (r *AdminRepository) FindByID(ctx context.Context, adminID string) (domain.AdminUser, error) {
	if r == nil || r.base == nil {
		return domain.AdminUser{}, errors.New("admin repository not initialised")
	}
	id := strings.TrimSpace(adminID)
	if id == "" {
		return domain.AdminUser{}, errors.New("admin repository: admin id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.AdminUser{}, err
	}
	return doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime), nil
}

// FindByEmail resolves an admin account by its login email.
func (r *AdminRepository) FindByEmail(ctx context.Context, email string) (domain.AdminUser, error) {
	if r == nil || r.base == nil {
		return domain.AdminUser{}, errors.New("admin repository not initialised")
	}
	normalised := normaliseEmail(email)
	if normalised == "" {
		return domain.AdminUser{}, errors.New("admin repository: email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", normalised).Limit(1)
	})
	if err != nil {
		return domain.AdminUser{}, err
	}
	if len(docs) == 0 {
		return domain.AdminUser{}, pfirestore.WrapError("admins.findByEmail", status.Error(codes.NotFound, fmt.Sprintf("admin with email %s not found", normalised)))
	}
	doc := docs[0]
	return doc.Data.toDomain(doc.ID, doc.CreateTime, doc.UpdateTime), nil
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type adminDocument struct {
	Username     string    `firestore:"username"`
	Email        string    `firestore:"email"`
	PasswordHash string    `firestore:"passwordHash"`
	Role         string    `firestore:"role"`
	Status       string    `firestore:"status"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func encodeAdminDocument(admin domain.AdminUser) adminDocument {
	now := time.Now().UTC()
	createdAt := admin.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	role := admin.Role
	if role == "" {
		role = domain.AdminRoleAdmin
	}
	status := admin.Status
	if status == "" {
		status = domain.AdminStatusActive
	}

	return adminDocument{
		Username:     strings.TrimSpace(admin.Username),
		Email:        normaliseEmail(admin.Email),
		PasswordHash: admin.PasswordHash,
		Role:         string(role),
		Status:       string(status),
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}
}

func (d adminDocument) toDomain(id string, createTime, updateTime time.Time) domain.AdminUser {
	admin := domain.AdminUser{
		ID:           id,
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         domain.AdminRole(d.Role),
		Status:       domain.AdminStatus(d.Status),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = createTime
	}
	if admin.UpdatedAt.IsZero() {
		admin.UpdatedAt = updateTime
	}
	return admin
}

var _ repositories.AdminRepository = (*AdminRepository)(nil)
