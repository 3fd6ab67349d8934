package collab

import (
	"sort"
	"strconv"
	"time"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
)

// simultaneousEditWindow is how far back activity entries count as
// concurrent work on an image.
const defaultSimultaneousEditWindow = 60 * time.Second

// startedHistoryDepth is how many trailing "started" entries per image the
// assignment-race check inspects.
const startedHistoryDepth = 3

// DetectConflicts derives the conflict list from a snapshot and the wall
// clock. It holds no state between calls: the same snapshot at the same
// instant always yields the same list, including IDs and ordering.
func DetectConflicts(st *models.CollaborationState, now time.Time, currentUserID string, window time.Duration) []models.Conflict {
	if window <= 0 {
		window = defaultSimultaneousEditWindow
	}

	var conflicts []models.Conflict
	conflicts = append(conflicts, expiredLockConflicts(st, now, currentUserID)...)
	conflicts = append(conflicts, simultaneousEditConflicts(st, now, window)...)
	conflicts = append(conflicts, assignmentRaceConflicts(st)...)
	return conflicts
}

// expiredLockConflicts flags locks held by other users whose lease has
// lapsed. The resolution action is takeover via ForceAssign.
func expiredLockConflicts(st *models.CollaborationState, now time.Time, currentUserID string) []models.Conflict {
	var conflicts []models.Conflict
	for _, imageID := range sortedAssignmentIDs(st) {
		assignment := st.Assignments[imageID]
		if assignment.Status != models.AssignmentLocked {
			continue
		}
		if assignment.AssignedTo == currentUserID || assignment.AssignedTo == "" {
			continue
		}
		if !now.After(assignment.LockedUntil) {
			continue
		}
		conflicts = append(conflicts, models.Conflict{
			ID:         string(models.ConflictExpiredLock) + "-" + imageID,
			ImageID:    imageID,
			Type:       models.ConflictExpiredLock,
			Users:      []string{assignment.AssignedTo},
			Resolution: models.ResolutionPending,
			Details: map[string]string{
				"assignedTo":  assignment.AssignedTo,
				"assignedBy":  assignment.AssignedBy,
				"lockedUntil": assignment.LockedUntil.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	return conflicts
}

// simultaneousEditConflicts flags images touched by more than one user
// within the recent activity window.
func simultaneousEditConflicts(st *models.CollaborationState, now time.Time, window time.Duration) []models.Conflict {
	cutoff := now.Add(-window)
	usersByImage := make(map[string]map[string]struct{})

	for _, activity := range st.Activities {
		if activity.Timestamp.Before(cutoff) {
			continue
		}
		if usersByImage[activity.ImageID] == nil {
			usersByImage[activity.ImageID] = make(map[string]struct{})
		}
		usersByImage[activity.ImageID][activity.UserID] = struct{}{}
	}

	var conflicts []models.Conflict
	for _, imageID := range sortedKeys(usersByImage) {
		users := usersByImage[imageID]
		if len(users) < 2 {
			continue
		}
		conflicts = append(conflicts, models.Conflict{
			ID:         string(models.ConflictSimultaneousEdit) + "-" + imageID,
			ImageID:    imageID,
			Type:       models.ConflictSimultaneousEdit,
			Users:      sortedSet(users),
			Resolution: models.ResolutionPending,
			Details: map[string]string{
				"window": window.String(),
			},
		})
	}
	return conflicts
}

// assignmentRaceConflicts flags images whose last few "started" entries
// name different users: two people raced to claim it. The current
// assignment stands; the conflict is informational.
func assignmentRaceConflicts(st *models.CollaborationState) []models.Conflict {
	startsByImage := make(map[string][]models.UserActivity)
	for _, activity := range st.Activities {
		if activity.Action != models.ActivityStarted {
			continue
		}
		startsByImage[activity.ImageID] = append(startsByImage[activity.ImageID], activity)
	}

	var conflicts []models.Conflict
	for _, imageID := range sortedKeys(startsByImage) {
		starts := startsByImage[imageID]
		if len(starts) > startedHistoryDepth {
			starts = starts[len(starts)-startedHistoryDepth:]
		}
		users := make(map[string]struct{})
		for _, activity := range starts {
			users[activity.UserID] = struct{}{}
		}
		if len(users) < 2 {
			continue
		}
		conflicts = append(conflicts, models.Conflict{
			ID:         string(models.ConflictAssignment) + "-" + imageID,
			ImageID:    imageID,
			Type:       models.ConflictAssignment,
			Users:      sortedSet(users),
			Resolution: models.ResolutionPending,
			Details: map[string]string{
				"recentStarts": strconv.Itoa(len(starts)),
			},
		})
	}
	return conflicts
}

func sortedAssignmentIDs(st *models.CollaborationState) []string {
	keys := make([]string, 0, len(st.Assignments))
	for id := range st.Assignments {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
