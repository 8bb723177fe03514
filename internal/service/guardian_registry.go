package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/port"
)

// OpenRequestChecker reports whether an account holder has approval
// requests still waiting on guardians.
type OpenRequestChecker interface {
	HasOpenRequests(accountHolderID string) bool
}

// GuardianRegistry manages the guardians of account holders. Mutations are
// serialized so the last-approver check and the write are atomic.
type GuardianRegistry struct {
	mu     sync.Mutex
	store  port.GuardianStore
	open   OpenRequestChecker
	logger *zap.Logger
	now    func() time.Time
}

// NewGuardianRegistry creates the registry.
func NewGuardianRegistry(store port.GuardianStore, open OpenRequestChecker, logger *zap.Logger) *GuardianRegistry {
	return &GuardianRegistry{store: store, open: open, logger: logger, now: time.Now}
}

// List returns every guardian of the holder, active or not.
func (r *GuardianRegistry) List(ctx context.Context, accountHolderID string) ([]domain.Guardian, error) {
	ctx, span := tracer.Start(ctx, "GuardianRegistry.List")
	defer span.End()
	span.SetAttributes(attribute.String("account_holder.id", accountHolderID))

	return r.store.ListGuardians(ctx, accountHolderID)
}

// ListActive returns the holder's active guardians.
func (r *GuardianRegistry) ListActive(ctx context.Context, accountHolderID string) ([]domain.Guardian, error) {
	all, err := r.List(ctx, accountHolderID)
	if err != nil {
		return nil, err
	}
	active := make([]domain.Guardian, 0, len(all))
	for _, g := range all {
		if g.Active {
			active = append(active, g)
		}
	}
	return active, nil
}

// Get returns a guardian of the holder.
func (r *GuardianRegistry) Get(ctx context.Context, accountHolderID, guardianID string) (*domain.Guardian, error) {
	ctx, span := tracer.Start(ctx, "GuardianRegistry.Get")
	defer span.End()

	g, err := r.store.GetGuardian(ctx, guardianID)
	if err != nil {
		return nil, err
	}
	if g.AccountHolderID != accountHolderID {
		return nil, &domain.ErrNotFound{Resource: "guardian", ID: guardianID}
	}
	return g, nil
}

// Add registers a new active guardian.
func (r *GuardianRegistry) Add(ctx context.Context, accountHolderID string, req domain.AddGuardianRequest) (*domain.Guardian, error) {
	ctx, span := tracer.Start(ctx, "GuardianRegistry.Add")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	phone := strings.TrimSpace(req.Phone)
	switch {
	case name == "":
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	case phone == "":
		return nil, &domain.ErrValidation{Field: "phone", Message: "required"}
	case !req.Relationship.Valid():
		return nil, &domain.ErrValidation{Field: "relationship", Message: "unknown relationship " + string(req.Relationship)}
	}

	perms := domain.DefaultGuardianPermissions()
	if req.Permissions != nil {
		perms = *req.Permissions
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.guardDuplicate(ctx, accountHolderID, "", name, phone); err != nil {
		return nil, err
	}

	g := &domain.Guardian{
		ID:              uuid.NewString(),
		AccountHolderID: accountHolderID,
		Name:            name,
		Relationship:    req.Relationship,
		Contact:         domain.ContactInfo{Phone: phone, Email: strings.TrimSpace(req.Email)},
		Permissions:     perms,
		Active:          true,
		RegisteredAt:    r.now(),
	}
	if err := r.store.CreateGuardian(ctx, g); err != nil {
		return nil, err
	}

	r.logger.Info("guardian added",
		zap.String("account_holder_id", accountHolderID),
		zap.String("guardian_id", g.ID),
		zap.String("relationship", string(g.Relationship)),
	)
	return g, nil
}

// Remove deletes a guardian.
func (r *GuardianRegistry) Remove(ctx context.Context, accountHolderID, guardianID string) error {
	ctx, span := tracer.Start(ctx, "GuardianRegistry.Remove")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.ownedGuardian(ctx, accountHolderID, guardianID)
	if err != nil {
		return err
	}
	if err := r.guardLastApprover(ctx, g); err != nil {
		return err
	}
	if err := r.store.DeleteGuardian(ctx, guardianID); err != nil {
		return err
	}

	r.logger.Info("guardian removed",
		zap.String("account_holder_id", accountHolderID),
		zap.String("guardian_id", guardianID),
	)
	return nil
}

// UpdatePermissions replaces a guardian's permissions.
func (r *GuardianRegistry) UpdatePermissions(ctx context.Context, accountHolderID, guardianID string, perms domain.GuardianPermissions) (*domain.Guardian, error) {
	ctx, span := tracer.Start(ctx, "GuardianRegistry.UpdatePermissions")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.ownedGuardian(ctx, accountHolderID, guardianID)
	if err != nil {
		return nil, err
	}
	if !perms.ApprovalRequired {
		if err := r.guardLastApprover(ctx, g); err != nil {
			return nil, err
		}
	}
	g.Permissions = perms
	if err := r.store.UpdateGuardian(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// SetActive activates or deactivates a guardian.
func (r *GuardianRegistry) SetActive(ctx context.Context, accountHolderID, guardianID string, active bool) (*domain.Guardian, error) {
	ctx, span := tracer.Start(ctx, "GuardianRegistry.SetActive")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.ownedGuardian(ctx, accountHolderID, guardianID)
	if err != nil {
		return nil, err
	}
	switch {
	case !active:
		if err := r.guardLastApprover(ctx, g); err != nil {
			return nil, err
		}
	case !g.Active:
		if err := r.guardDuplicate(ctx, accountHolderID, g.ID, g.Name, g.Contact.Phone); err != nil {
			return nil, err
		}
	}
	g.Active = active
	if err := r.store.UpdateGuardian(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *GuardianRegistry) ownedGuardian(ctx context.Context, accountHolderID, guardianID string) (*domain.Guardian, error) {
	g, err := r.store.GetGuardian(ctx, guardianID)
	if err != nil {
		return nil, err
	}
	if g.AccountHolderID != accountHolderID {
		return nil, &domain.ErrNotFound{Resource: "guardian", ID: guardianID}
	}
	return g, nil
}

// guardDuplicate fails when another active guardian of the holder has the
// same name and phone.
func (r *GuardianRegistry) guardDuplicate(ctx context.Context, accountHolderID, exceptID, name, phone string) error {
	existing, err := r.store.ListGuardians(ctx, accountHolderID)
	if err != nil {
		return err
	}
	for _, g := range existing {
		if g.ID != exceptID && g.Active && strings.EqualFold(g.Name, name) && normalizePhone(g.Contact.Phone) == normalizePhone(phone) {
			return &domain.ErrDuplicateGuardian{Name: name, Phone: phone}
		}
	}
	return nil
}

// guardLastApprover fails when g is the holder's last active hard-required
// approver and approvals are still open.
func (r *GuardianRegistry) guardLastApprover(ctx context.Context, g *domain.Guardian) error {
	if !g.Active || !g.Permissions.ApprovalRequired {
		return nil
	}
	all, err := r.store.ListGuardians(ctx, g.AccountHolderID)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.ID != g.ID && other.Active && other.Permissions.ApprovalRequired {
			return nil
		}
	}
	if r.open != nil && r.open.HasOpenRequests(g.AccountHolderID) {
		return &domain.ErrLastApproverRemoval{GuardianID: g.ID}
	}
	return nil
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
