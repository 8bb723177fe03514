package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/resilience"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}
	return NewClient(srv.Client(), srv.URL, "anon", "service", resilience.NewCircuitBreaker("supabase-test", nil), cfg, zap.NewNop())
}

func TestGetGuardian_MapsColumns(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer service" {
			t.Errorf("missing auth headers")
		}
		if r.URL.Path != "/rest/v1/guardians" || r.URL.Query().Get("id") != "eq.g-1" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`[{"id":"g-1","account_holder_id":"h-1","name":"Ana","relationship":"child",
			"phone":"+5511999","can_approve":true,"approval_required":true,"active":true,
			"registered_at":"2026-03-10T10:00:00Z"}]`))
	})

	g, err := c.GetGuardian(context.Background(), "g-1")
	if err != nil {
		t.Fatal(err)
	}
	if g.AccountHolderID != "h-1" || g.Contact.Phone != "+5511999" || !g.Permissions.ApprovalRequired || g.Permissions.CanSetLimit {
		t.Errorf("unexpected guardian %+v", g)
	}
}

func TestGetGuardian_EmptyIsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.GetGuardian(context.Background(), "missing")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetLimitConfig_MissingReturnsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	cfg, err := c.GetLimitConfig(context.Background(), "h-1")
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %+v, %v", cfg, err)
	}
}

func TestSaveTransfer_Upserts(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/transfer_records" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if !strings.Contains(r.Header.Get("Prefer"), "resolution=merge-duplicates") {
			t.Errorf("expected upsert preference, got %q", r.Header.Get("Prefer"))
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusCreated)
	})

	rec := &domain.TransferRecord{DraftID: "d-1", AccountHolderID: "h-1", Amount: 1000, State: domain.StateExecuted}
	if err := c.SaveTransfer(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if body["draft_id"] != "d-1" || body["state"] != string(domain.StateExecuted) {
		t.Errorf("unexpected body %v", body)
	}
}

func TestQuery_ServerErrorWrapped(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.ListTransfers(context.Background(), "h-1")
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected one retry, got %d calls", calls)
	}
}

func TestDeleteSafeAccount_OtherOwnerNotFound(t *testing.T) {
	var deletes int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			atomic.AddInt32(&deletes, 1)
		}
		_, _ = w.Write([]byte(`[]`))
	})

	err := c.DeleteSafeAccount(context.Background(), "h-2", "s-1")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if deletes != 0 {
		t.Error("delete must not be issued for a foreign safe account")
	}
}

func TestSaveApproval_PatchesOnlyPendingRows(t *testing.T) {
	var patches, inserts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			atomic.AddInt32(&patches, 1)
			if r.URL.Query().Get("status") != "eq.pending" || r.URL.Query().Get("id") != "eq.req-1" {
				t.Errorf("patch must be scoped to the pending row, got %s", r.URL.RawQuery)
			}
			// The row was already resolved, so nothing matches.
			_, _ = w.Write([]byte(`[]`))
		case http.MethodPost:
			atomic.AddInt32(&inserts, 1)
			if !strings.Contains(r.Header.Get("Prefer"), "resolution=ignore-duplicates") {
				t.Errorf("insert must ignore existing rows, got %q", r.Header.Get("Prefer"))
			}
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	req := &domain.ApprovalRequest{ID: "req-1", Status: domain.ApprovalPending, ReceivedApprovals: map[string]domain.ReceivedApproval{}}
	if err := c.SaveApproval(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if patches != 1 || inserts != 1 {
		t.Errorf("expected one patch and one insert, got %d and %d", patches, inserts)
	}
}

func TestSaveApproval_UpdatedPendingRowSkipsInsert(t *testing.T) {
	var inserts int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			atomic.AddInt32(&inserts, 1)
		}
		_, _ = w.Write([]byte(`[{"id":"req-1","status":"approved"}]`))
	})

	req := &domain.ApprovalRequest{ID: "req-1", Status: domain.ApprovalApproved, ReceivedApprovals: map[string]domain.ReceivedApproval{}}
	if err := c.SaveApproval(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if inserts != 0 {
		t.Errorf("expected no insert after a matching patch, got %d", inserts)
	}
}

func TestListPendingApprovals(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "eq.pending" || r.URL.Query().Get("order") != "expires_at.asc" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[{"id":"req-1","transfer_id":"t-1","status":"pending","required_approvals":["g-1"]}]`))
	})

	pending, err := c.ListPendingApprovals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].TransferID != "t-1" || pending[0].ReceivedApprovals == nil {
		t.Errorf("unexpected pending list %+v", pending)
	}
}
