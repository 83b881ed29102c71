package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
)

func TestCreateBranchFullCopy(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	parent := h.seed(t, "d1", "orders", domain.StatusRunning, "parent-pw-1", nil)

	child, err := h.svc.CreateBranch(ctx, asOwner, parent.ID, BranchInput{Name: "dev", IncludeData: true})
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if child.Name != "orders-dev" || child.BranchName != "dev" {
		t.Fatalf("unexpected child naming: %q / %q", child.Name, child.BranchName)
	}
	if child.Status != domain.StatusRunning {
		t.Fatalf("branch create should return a running child, got %s", child.Status)
	}
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("lineage not recorded: %+v", child.ParentID)
	}
	if child.IsDefault {
		t.Fatal("branch must not be the default instance")
	}
	if child.ForkedAt == nil {
		t.Fatal("fork point not recorded")
	}
	if child.Port == nil || *child.Port == *parent.Port {
		t.Fatalf("branch must hold its own port, got %+v", child.Port)
	}

	if len(h.adapter.replications) != 1 {
		t.Fatalf("expected one replication, got %d", len(h.adapter.replications))
	}
	repl := h.adapter.replications[0]
	if repl.mode != engine.ReplicationFull {
		t.Fatalf("expected full replication, got %s", repl.mode)
	}
	if repl.src.ContainerName != "datify-pg-orders" || repl.dst.ContainerName != "datify-pg-orders-dev" {
		t.Fatalf("unexpected replication endpoints: %q -> %q", repl.src.ContainerName, repl.dst.ContainerName)
	}
	if repl.src.Password != "parent-pw-1" {
		t.Fatal("source target missing decrypted parent password")
	}
}

func TestCreateBranchSchemaOnly(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	parent := h.seed(t, "d1", "orders", domain.StatusRunning, "parent-pw-1", nil)

	if _, err := h.svc.CreateBranch(ctx, asOwner, parent.ID, BranchInput{Name: "schema", IncludeData: false}); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if len(h.adapter.replications) != 1 || h.adapter.replications[0].mode != engine.ReplicationSchemaOnly {
		t.Fatalf("expected schema-only replication, got %+v", h.adapter.replications)
	}
}

func TestCreateBranchRejectsSchemaOnlyForKeyValue(t *testing.T) {
	h := newHarness(t, &stubAdapter{kind: domain.EngineValkey})
	ctx := context.Background()
	parent := h.seed(t, "d1", "cache", domain.StatusRunning, "parent-pw-1", nil)

	_, err := h.svc.CreateBranch(ctx, asOwner, parent.ID, BranchInput{Name: "dev", IncludeData: false})
	if !domain.IsCode(err, domain.CodeUnsupportedBranchMode) {
		t.Fatalf("expected UNSUPPORTED_BRANCH_MODE, got %v", err)
	}
	if len(h.adapter.replications) != 0 {
		t.Fatal("replication attempted for a rejected mode")
	}

	if _, err := h.svc.CreateBranch(ctx, asOwner, parent.ID, BranchInput{Name: "dev", IncludeData: true}); err != nil {
		t.Fatalf("full-copy branch: %v", err)
	}
}

func TestCreateBranchRequiresRunningParent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	parent := h.seed(t, "d1", "orders", domain.StatusStopped, "parent-pw-1", nil)

	_, err := h.svc.CreateBranch(ctx, asOwner, parent.ID, BranchInput{Name: "dev", IncludeData: true})
	if !domain.IsCode(err, domain.CodeConflictingState) {
		t.Fatalf("expected CONFLICTING_STATE, got %v", err)
	}
}

func TestCreateBranchValidatesName(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	parent := h.seed(t, "d1", "orders", domain.StatusRunning, "parent-pw-1", nil)

	for _, name := range []string{"", "Dev", "dev_1", strings.Repeat("a", 64)} {
		if _, err := h.svc.CreateBranch(ctx, asOwner, parent.ID, BranchInput{Name: name, IncludeData: true}); !domain.IsCode(err, domain.CodeBadName) {
			t.Fatalf("branch name %q: expected BAD_NAME, got %v", name, err)
		}
	}
}

func TestCreateBranchDuplicate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	parent := h.seed(t, "d1", "orders", domain.StatusRunning, "parent-pw-1", nil)

	if _, err := h.svc.CreateBranch(ctx, asOwner, parent.ID, BranchInput{Name: "dev", IncludeData: true}); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	_, err := h.svc.CreateBranch(ctx, asOwner, parent.ID, BranchInput{Name: "dev", IncludeData: true})
	if !domain.IsCode(err, domain.CodeDuplicateName) {
		t.Fatalf("expected DUPLICATE_NAME, got %v", err)
	}
}

func TestCreateBranchReclaimsOnReplicationFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	parent := h.seed(t, "d1", "orders", domain.StatusRunning, "parent-pw-1", nil)
	h.adapter.replicateErr = errors.New("dump failed")

	_, err := h.svc.CreateBranch(ctx, asOwner, parent.ID, BranchInput{Name: "dev", IncludeData: true})
	if err == nil {
		t.Fatal("expected replication failure to surface")
	}

	child, err := h.repo.GetDatabaseByName(ctx, "p1", "orders-dev")
	if err != nil {
		t.Fatalf("child row missing after failure: %v", err)
	}
	if child.Status != domain.StatusError {
		t.Fatalf("expected error status, got %s", child.Status)
	}
	if child.StatusReason == nil || !strings.Contains(*child.StatusReason, "dump failed") {
		t.Fatalf("failure reason not recorded: %+v", child.StatusReason)
	}
	if !h.driver.has("remove datify-pg-orders-dev") {
		t.Fatalf("failed branch container not reclaimed: %v", h.driver.calls)
	}
	if !h.driver.has("remove_volume datify-pg-orders-dev-data") {
		t.Fatalf("failed branch volume not reclaimed: %v", h.driver.calls)
	}
}

func TestSyncFromParent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	fixed := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	h.svc.now = func() time.Time { return fixed }

	parent := h.seed(t, "d1", "orders", domain.StatusRunning, "parent-pw-1", nil)
	h.seed(t, "d2", "orders-dev", domain.StatusRunning, "child-pw-1", func(inst *domain.Database) {
		inst.BranchName = "dev"
		inst.IsDefault = false
		inst.ParentID = &parent.ID
	})

	child, err := h.svc.SyncFromParent(ctx, asOwner, "d2")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(h.adapter.replications) != 1 || h.adapter.replications[0].mode != engine.ReplicationFull {
		t.Fatalf("expected one full replication, got %+v", h.adapter.replications)
	}
	if child.ForkedAt == nil || !child.ForkedAt.Equal(fixed) {
		t.Fatalf("fork point not advanced: %+v", child.ForkedAt)
	}
	row, err := h.repo.GetDatabaseByID(ctx, "d2")
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.ForkedAt == nil || !row.ForkedAt.Equal(fixed) {
		t.Fatalf("fork point not persisted: %+v", row.ForkedAt)
	}
}

func TestSyncRejectsNonBranch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.seed(t, "d1", "orders", domain.StatusRunning, "parent-pw-1", nil)

	_, err := h.svc.SyncFromParent(ctx, asOwner, "d1")
	if !domain.IsCode(err, domain.CodeConflictingState) {
		t.Fatalf("expected CONFLICTING_STATE, got %v", err)
	}
}

func TestSyncRequiresBothRunning(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	parent := h.seed(t, "d1", "orders", domain.StatusStopped, "parent-pw-1", nil)
	h.seed(t, "d2", "orders-dev", domain.StatusRunning, "child-pw-1", func(inst *domain.Database) {
		inst.ParentID = &parent.ID
	})

	_, err := h.svc.SyncFromParent(ctx, asOwner, "d2")
	if !domain.IsCode(err, domain.CodeConflictingState) {
		t.Fatalf("expected CONFLICTING_STATE, got %v", err)
	}
}

func TestSyncRejectsConcurrentOperation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	parent := h.seed(t, "d1", "orders", domain.StatusRunning, "parent-pw-1", nil)
	h.seed(t, "d2", "orders-dev", domain.StatusRunning, "child-pw-1", func(inst *domain.Database) {
		inst.ParentID = &parent.ID
	})

	release := h.svc.locks.acquire("d2")
	defer release()

	_, err := h.svc.SyncFromParent(ctx, asOwner, "d2")
	if !domain.IsCode(err, domain.CodeConflictingState) {
		t.Fatalf("expected CONFLICTING_STATE, got %v", err)
	}
}

func TestListBranches(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	parent := h.seed(t, "d1", "orders", domain.StatusRunning, "parent-pw-1", nil)

	if _, err := h.svc.CreateBranch(ctx, asOwner, parent.ID, BranchInput{Name: "dev", IncludeData: true}); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	branches, err := h.svc.ListBranches(ctx, asOwner, parent.ID)
	if err != nil {
		t.Fatalf("list branches: %v", err)
	}
	if len(branches) != 1 || branches[0].BranchName != "dev" {
		t.Fatalf("unexpected branches: %+v", branches)
	}
}
