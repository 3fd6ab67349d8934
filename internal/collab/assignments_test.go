package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
)

// Spec scenario: A locks an image for annotation; B is rejected until the
// lease expires, then B's assignment overwrites A's.
func TestAssign_LeaseExclusivityAndExpiry(t *testing.T) {
	service, states, clock := newTestService(t)
	ctx := context.Background()

	assignment, err := service.Assign(ctx, "proj-1", "img-1", alice, models.LockReasonAnnotation)
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if assignment.Status != models.AssignmentLocked {
		t.Errorf("status = %q, want locked", assignment.Status)
	}
	wantUntil := clock.Now().Add(30 * time.Minute)
	if !assignment.LockedUntil.Equal(wantUntil) {
		t.Errorf("LockedUntil = %v, want %v", assignment.LockedUntil, wantUntil)
	}

	// B is rejected before expiry and the stored record is unchanged
	if _, err := service.Assign(ctx, "proj-1", "img-1", bob, models.LockReasonAnnotation); !errors.Is(err, ErrImageLocked) {
		t.Fatalf("Assign() by B error = %v, want ErrImageLocked", err)
	}
	st, _ := states.Read(ctx, "proj-1")
	if st.Assignments["img-1"].AssignedTo != alice.UserID {
		t.Fatal("rejected assignment mutated the record")
	}

	// past expiry the lease no longer excludes anyone
	clock.Advance(31 * time.Minute)
	if !CanAssign(st, "img-1", bob.UserID, clock.Now()) {
		t.Fatal("CanAssign() = false for expired lock")
	}
	taken, err := service.Assign(ctx, "proj-1", "img-1", bob, models.LockReasonAnnotation)
	if err != nil {
		t.Fatalf("Assign() after expiry error = %v", err)
	}
	if taken.AssignedTo != bob.UserID {
		t.Errorf("assignedTo = %q, want %q", taken.AssignedTo, bob.UserID)
	}
}

func TestCanAssign_Cases(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	st := models.NewCollaborationState("proj-1", now)

	if !CanAssign(st, "unknown", "u1", now) {
		t.Error("no record: want assignable")
	}

	st.Assignments["avail"] = models.ImageAssignment{ImageID: "avail", Status: models.AssignmentAvailable}
	if !CanAssign(st, "avail", "u1", now) {
		t.Error("available record: want assignable")
	}

	st.Assignments["mine"] = models.ImageAssignment{
		ImageID: "mine", Status: models.AssignmentLocked, AssignedTo: "u1",
		LockedUntil: now.Add(time.Hour),
	}
	if !CanAssign(st, "mine", "u1", now) {
		t.Error("own lock: want assignable")
	}

	st.Assignments["held"] = models.ImageAssignment{
		ImageID: "held", Status: models.AssignmentLocked, AssignedTo: "u2",
		LockedUntil: now.Add(time.Hour),
	}
	if CanAssign(st, "held", "u1", now) {
		t.Error("foreign unexpired lock: want not assignable")
	}

	st.Assignments["expired"] = models.ImageAssignment{
		ImageID: "expired", Status: models.AssignmentLocked, AssignedTo: "u2",
		LockedUntil: now.Add(-time.Minute),
	}
	if !CanAssign(st, "expired", "u1", now) {
		t.Error("expired lock: want assignable")
	}
}

// A manual (non-annotation) reason yields a soft assignment, which a later
// caller may overwrite.
func TestAssign_ManualReasonIsSoft(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	assignment, err := service.Assign(ctx, "proj-1", "img-1", alice, models.LockReasonManual)
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if assignment.Status != models.AssignmentAssigned {
		t.Errorf("status = %q, want assigned", assignment.Status)
	}

	taken, err := service.Assign(ctx, "proj-1", "img-1", bob, models.LockReasonAnnotation)
	if err != nil {
		t.Fatalf("Assign() over soft assignment error = %v", err)
	}
	if taken.AssignedTo != bob.UserID {
		t.Errorf("assignedTo = %q, want %q", taken.AssignedTo, bob.UserID)
	}
}

func TestRelease_NonOwnerIsRejected(t *testing.T) {
	service, states, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Assign(ctx, "proj-1", "img-1", alice, models.LockReasonAnnotation); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}

	if err := service.Release(ctx, "proj-1", "img-1", bob.UserID, false); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Release() by non-owner error = %v, want ErrNotOwner", err)
	}

	st, _ := states.Read(ctx, "proj-1")
	if st.Assignments["img-1"].AssignedTo != alice.UserID {
		t.Error("rejected release mutated the record")
	}
}

func TestRelease_MarkCompletedKeepsOwner(t *testing.T) {
	service, states, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Assign(ctx, "proj-1", "img-1", alice, models.LockReasonAnnotation); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := service.Release(ctx, "proj-1", "img-1", alice.UserID, true); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	st, _ := states.Read(ctx, "proj-1")
	assignment := st.Assignments["img-1"]
	if assignment.Status != models.AssignmentCompleted {
		t.Errorf("status = %q, want completed", assignment.Status)
	}
	if assignment.AssignedTo != alice.UserID {
		t.Errorf("assignedTo = %q, want kept", assignment.AssignedTo)
	}
}

func TestRelease_WithoutCompletingFreesImage(t *testing.T) {
	service, states, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Assign(ctx, "proj-1", "img-1", alice, models.LockReasonAnnotation); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := service.Release(ctx, "proj-1", "img-1", alice.UserID, false); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	st, _ := states.Read(ctx, "proj-1")
	assignment := st.Assignments["img-1"]
	if assignment.Status != models.AssignmentAvailable {
		t.Errorf("status = %q, want available", assignment.Status)
	}
	if assignment.AssignedTo != "" {
		t.Errorf("assignedTo = %q, want cleared", assignment.AssignedTo)
	}
}

// Completed is not immutable: a fresh assignment reopens the image.
func TestAssign_ReopensCompletedWork(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Assign(ctx, "proj-1", "img-1", alice, models.LockReasonAnnotation); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := service.Release(ctx, "proj-1", "img-1", alice.UserID, true); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	reopened, err := service.Assign(ctx, "proj-1", "img-1", bob, models.LockReasonAnnotation)
	if err != nil {
		t.Fatalf("Assign() on completed image error = %v", err)
	}
	if reopened.AssignedTo != bob.UserID || reopened.Status != models.AssignmentLocked {
		t.Errorf("reopened assignment = %+v", reopened)
	}
}

// ForceAssign succeeds regardless of lock state or expiry.
func TestForceAssign_AlwaysSucceeds(t *testing.T) {
	service, states, clock := newTestService(t)
	ctx := context.Background()

	if _, err := service.Assign(ctx, "proj-1", "img-1", alice, models.LockReasonAnnotation); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}

	// well inside A's lease
	forced, err := service.ForceAssign(ctx, "proj-1", "img-1", bob)
	if err != nil {
		t.Fatalf("ForceAssign() error = %v", err)
	}
	if forced.AssignedTo != bob.UserID {
		t.Errorf("assignedTo = %q, want %q", forced.AssignedTo, bob.UserID)
	}
	if forced.Status != models.AssignmentLocked {
		t.Errorf("status = %q, want locked", forced.Status)
	}
	wantUntil := clock.Now().Add(30 * time.Minute)
	if !forced.LockedUntil.Equal(wantUntil) {
		t.Errorf("LockedUntil = %v, want fresh lease %v", forced.LockedUntil, wantUntil)
	}

	st, _ := states.Read(ctx, "proj-1")
	if st.Assignments["img-1"].AssignedTo != bob.UserID {
		t.Error("takeover not persisted")
	}
}

func TestRecordActivity_CapsLog(t *testing.T) {
	service, states, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		if err := service.RecordActivity(ctx, "proj-1", alice, "img-1", models.ActivityAnnotating, i); err != nil {
			t.Fatalf("RecordActivity() error = %v", err)
		}
	}

	st, _ := states.Read(ctx, "proj-1")
	if len(st.Activities) != 50 {
		t.Fatalf("activity log length = %d, want 50", len(st.Activities))
	}
	// the newest entries survive
	if st.Activities[len(st.Activities)-1].AnnotationsCount != 59 {
		t.Errorf("newest entry count = %d, want 59", st.Activities[len(st.Activities)-1].AnnotationsCount)
	}
}

func TestAssign_AppendsStartedActivity(t *testing.T) {
	service, states, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.Assign(ctx, "proj-1", "img-1", alice, models.LockReasonAnnotation); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}

	st, _ := states.Read(ctx, "proj-1")
	if len(st.Activities) != 1 {
		t.Fatalf("activity count = %d, want 1", len(st.Activities))
	}
	if st.Activities[0].Action != models.ActivityStarted {
		t.Errorf("action = %q, want started", st.Activities[0].Action)
	}
}
