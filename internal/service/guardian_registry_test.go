package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

func TestGuardianRegistry_AddValidatesAndRejectsDuplicates(t *testing.T) {
	f := newFixture(5 * time.Minute)
	ctx := context.Background()

	g, err := f.guardians.Add(ctx, "holder-1", domain.AddGuardianRequest{
		Name: "Ana", Relationship: domain.RelationshipChild, Phone: "+55 (11) 99999-0000",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !g.Active || !g.Permissions.ApprovalRequired {
		t.Errorf("expected active guardian with default permissions, got %+v", g)
	}

	_, err = f.guardians.Add(ctx, "holder-1", domain.AddGuardianRequest{
		Name: "ana", Relationship: domain.RelationshipSpouse, Phone: "5511999990000",
	})
	var dup *domain.ErrDuplicateGuardian
	if !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateGuardian, got %v", err)
	}

	// same person under another account holder is fine
	if _, err := f.guardians.Add(ctx, "holder-2", domain.AddGuardianRequest{
		Name: "Ana", Relationship: domain.RelationshipChild, Phone: "+55 (11) 99999-0000",
	}); err != nil {
		t.Errorf("expected success for another holder, got %v", err)
	}

	_, err = f.guardians.Add(ctx, "holder-1", domain.AddGuardianRequest{Name: "Bob", Relationship: "friend", Phone: "1"})
	var invalid *domain.ErrValidation
	if !errors.As(err, &invalid) {
		t.Errorf("expected ErrValidation for unknown relationship, got %v", err)
	}
}

func TestGuardianRegistry_DuplicateAllowedWhenInactive(t *testing.T) {
	f := newFixture(5 * time.Minute)
	ctx := context.Background()

	g := f.addGuardian("Ana", approverPerms())
	f.addGuardian("Bia", approverPerms())
	if _, err := f.guardians.SetActive(ctx, "holder-1", g.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.guardians.Add(ctx, "holder-1", domain.AddGuardianRequest{
		Name: g.Name, Relationship: g.Relationship, Phone: g.Contact.Phone,
	}); err != nil {
		t.Errorf("expected re-registration of inactive guardian, got %v", err)
	}
}

func TestGuardianRegistry_ReactivationRejectsDuplicate(t *testing.T) {
	f := newFixture(5 * time.Minute)
	ctx := context.Background()

	g := f.addGuardian("Ana", approverPerms())
	if _, err := f.guardians.SetActive(ctx, "holder-1", g.ID, false); err != nil {
		t.Fatal(err)
	}
	twin, err := f.guardians.Add(ctx, "holder-1", domain.AddGuardianRequest{
		Name: g.Name, Relationship: g.Relationship, Phone: g.Contact.Phone,
	})
	if err != nil {
		t.Fatal(err)
	}

	var dup *domain.ErrDuplicateGuardian
	if _, err := f.guardians.SetActive(ctx, "holder-1", g.ID, true); !errors.As(err, &dup) {
		t.Fatalf("expected ErrDuplicateGuardian on reactivation, got %v", err)
	}
	if got, _ := f.guardians.Get(ctx, "holder-1", g.ID); got.Active {
		t.Error("rejected reactivation must leave the guardian inactive")
	}

	if _, err := f.guardians.SetActive(ctx, "holder-1", twin.ID, true); err != nil {
		t.Errorf("re-activating an active guardian must not count itself: %v", err)
	}
	f.addGuardian("Bia", approverPerms())
	if _, err := f.guardians.SetActive(ctx, "holder-1", twin.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.guardians.SetActive(ctx, "holder-1", g.ID, true); err != nil {
		t.Errorf("expected reactivation once the twin is inactive, got %v", err)
	}
}

func TestGuardianRegistry_LastApproverGuard(t *testing.T) {
	f := newFixture(5 * time.Minute)
	ctx := context.Background()

	only := f.addGuardian("Ana", approverPerms())

	// Nothing pending: removal allowed in principle, so park a transfer first.
	rec, err := f.workflow.Submit(ctx, "holder-1", domain.TransferInput{Bank: "001", AccountNumber: "777", Amount: 100})
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != domain.StatePendingApproval {
		t.Fatalf("expected pending approval, got %s", rec.State)
	}

	var last *domain.ErrLastApproverRemoval
	if err := f.guardians.Remove(ctx, "holder-1", only.ID); !errors.As(err, &last) {
		t.Errorf("remove: expected ErrLastApproverRemoval, got %v", err)
	}
	perms := approverPerms()
	perms.ApprovalRequired = false
	if _, err := f.guardians.UpdatePermissions(ctx, "holder-1", only.ID, perms); !errors.As(err, &last) {
		t.Errorf("update: expected ErrLastApproverRemoval, got %v", err)
	}
	if _, err := f.guardians.SetActive(ctx, "holder-1", only.ID, false); !errors.As(err, &last) {
		t.Errorf("deactivate: expected ErrLastApproverRemoval, got %v", err)
	}

	// A second required approver lifts the guard.
	f.addGuardian("Bia", approverPerms())
	if err := f.guardians.Remove(ctx, "holder-1", only.ID); err != nil {
		t.Errorf("expected removal with another approver, got %v", err)
	}
}

func TestGuardianRegistry_RemoveWithoutOpenRequests(t *testing.T) {
	f := newFixture(5 * time.Minute)
	ctx := context.Background()

	g := f.addGuardian("Ana", approverPerms())
	if err := f.guardians.Remove(ctx, "holder-1", g.ID); err != nil {
		t.Fatalf("expected removal, got %v", err)
	}
	active, _ := f.guardians.ListActive(ctx, "holder-1")
	if len(active) != 0 {
		t.Errorf("expected no guardians, got %d", len(active))
	}
}

func TestGuardianRegistry_OtherHoldersGuardianIsNotFound(t *testing.T) {
	f := newFixture(5 * time.Minute)
	g := f.addGuardian("Ana", approverPerms())

	err := f.guardians.Remove(context.Background(), "holder-2", g.ID)
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
