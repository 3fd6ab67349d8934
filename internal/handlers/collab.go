package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/collab"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/lock"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/middleware"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
)

type sessionView struct {
	SessionID      string    `json:"sessionId"`
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	ProjectID      string    `json:"projectId"`
	LoginTime      time.Time `json:"loginTime"`
	LastHeartbeat  time.Time `json:"lastHeartbeat"`
	IsActive       bool      `json:"isActive"`
	CurrentImageID string    `json:"currentImageId,omitempty"`
}

type assignmentView struct {
	ImageID     string    `json:"imageId"`
	ProjectID   string    `json:"projectId"`
	AssignedTo  string    `json:"assignedTo,omitempty"`
	AssignedBy  string    `json:"assignedBy,omitempty"`
	AssignedAt  time.Time `json:"assignedAt"`
	LockedUntil time.Time `json:"lockedUntil"`
	Status      string    `json:"status"`
	LockReason  string    `json:"lockReason"`
}

type activityView struct {
	UserID           string    `json:"userId"`
	Username         string    `json:"username"`
	ImageID          string    `json:"imageId"`
	Action           string    `json:"action"`
	Timestamp        time.Time `json:"timestamp"`
	AnnotationsCount int       `json:"annotationsCount"`
}

type conflictView struct {
	ID         string            `json:"conflictId"`
	ImageID    string            `json:"imageId"`
	Type       string            `json:"conflictType"`
	Users      []string          `json:"users"`
	Resolution string            `json:"resolution"`
	Details    map[string]string `json:"details,omitempty"`
}

type snapshotView struct {
	ProjectID   string           `json:"projectId"`
	Sessions    []sessionView    `json:"activeSessions"`
	Assignments []assignmentView `json:"assignments"`
	Activities  []activityView   `json:"activities"`
	Conflicts   []conflictView   `json:"conflicts"`
	LastSync    time.Time        `json:"lastSync"`
}

func sessionToView(s models.UserSession) sessionView {
	return sessionView{
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		Username:       s.Username,
		ProjectID:      s.ProjectID,
		LoginTime:      s.LoginTime,
		LastHeartbeat:  s.LastHeartbeat,
		IsActive:       s.IsActive,
		CurrentImageID: s.CurrentImageID,
	}
}

func assignmentToView(a models.ImageAssignment) assignmentView {
	return assignmentView{
		ImageID:     a.ImageID,
		ProjectID:   a.ProjectID,
		AssignedTo:  a.AssignedTo,
		AssignedBy:  a.AssignedBy,
		AssignedAt:  a.AssignedAt,
		LockedUntil: a.LockedUntil,
		Status:      string(a.Status),
		LockReason:  string(a.LockReason),
	}
}

func snapshotToView(snapshot collab.Snapshot) snapshotView {
	st := snapshot.State
	view := snapshotView{
		ProjectID:   st.ProjectID,
		Sessions:    []sessionView{},
		Assignments: []assignmentView{},
		Activities:  []activityView{},
		Conflicts:   []conflictView{},
		LastSync:    st.LastSync,
	}
	for _, session := range st.ActiveSessions {
		view.Sessions = append(view.Sessions, sessionToView(session))
	}
	for _, assignment := range st.Assignments {
		view.Assignments = append(view.Assignments, assignmentToView(assignment))
	}
	for _, activity := range st.Activities {
		view.Activities = append(view.Activities, activityView{
			UserID:           activity.UserID,
			Username:         activity.Username,
			ImageID:          activity.ImageID,
			Action:           string(activity.Action),
			Timestamp:        activity.Timestamp,
			AnnotationsCount: activity.AnnotationsCount,
		})
	}
	for _, conflict := range snapshot.Conflicts {
		view.Conflicts = append(view.Conflicts, conflictView{
			ID:         conflict.ID,
			ImageID:    conflict.ImageID,
			Type:       string(conflict.Type),
			Users:      conflict.Users,
			Resolution: string(conflict.Resolution),
			Details:    conflict.Details,
		})
	}
	return view
}

// writeCollabError maps the coordination error taxonomy onto HTTP. Lock
// timeouts are transient and retryable; rejections are value-shaped and
// never 500s.
func (h HandlerSet) writeCollabError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lock.ErrLockTimeout):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lock_timeout", "retryable": true})
	case errors.Is(err, collab.ErrImageLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "image_locked"})
	case errors.Is(err, collab.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_owner"})
	case errors.Is(err, collab.ErrProjectFull):
		c.JSON(http.StatusConflict, gin.H{"error": "max_users_reached"})
	default:
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("collaboration operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
	}
}

func (h HandlerSet) RegisterSession(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	session, err := h.service.RegisterSession(c.Request.Context(), c.Param("projectId"), identity)
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionToView(session))
}

type heartbeatRequest struct {
	CurrentImageID string `json:"currentImageId"`
}

func (h HandlerSet) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}

	err := h.service.Heartbeat(c.Request.Context(), c.Param("projectId"), c.Param("sessionId"), req.CurrentImageID)
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) UnregisterSession(c *gin.Context) {
	err := h.service.Unregister(c.Request.Context(), c.Param("projectId"), c.Param("sessionId"))
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type assignRequest struct {
	Reason string `json:"reason"`
}

func (h HandlerSet) AssignImage(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	reason := models.LockReason(req.Reason)
	switch reason {
	case models.LockReasonAnnotation, models.LockReasonManual, models.LockReasonAuto:
	case "":
		reason = models.LockReasonManual
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_lock_reason"})
		return
	}

	assignment, err := h.service.Assign(c.Request.Context(), c.Param("projectId"), c.Param("imageId"), identity, reason)
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignmentToView(*assignment))
}

type releaseRequest struct {
	MarkCompleted bool `json:"markCompleted"`
}

func (h HandlerSet) ReleaseImage(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}

	err := h.service.Release(c.Request.Context(), c.Param("projectId"), c.Param("imageId"), identity.UserID, req.MarkCompleted)
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ForceAssignImage is gated on the detector's verdict: takeover is only
// offered against an expired lock, so requests outside that window are
// rejected even though the underlying operation would succeed.
func (h HandlerSet) ForceAssignImage(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	projectID := c.Param("projectId")
	imageID := c.Param("imageId")

	status, err := h.service.Status(c.Request.Context(), projectID, imageID, identity.UserID)
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	if !status.CanTakeOver {
		c.JSON(http.StatusConflict, gin.H{"error": "takeover_not_available"})
		return
	}

	assignment, err := h.service.ForceAssign(c.Request.Context(), projectID, imageID, identity)
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignmentToView(*assignment))
}

type activityRequest struct {
	Action           string `json:"action"`
	AnnotationsCount int    `json:"annotationsCount"`
}

func (h HandlerSet) RecordActivity(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	action := models.ActivityAction(req.Action)
	switch action {
	case models.ActivityStarted, models.ActivityAnnotating, models.ActivityCompleted, models.ActivityAbandoned:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_action"})
		return
	}

	err := h.service.RecordActivity(c.Request.Context(), c.Param("projectId"), identity, c.Param("imageId"), action, req.AnnotationsCount)
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ImageStatus(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	status, err := h.service.Status(c.Request.Context(), c.Param("projectId"), c.Param("imageId"), identity.UserID)
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h HandlerSet) ProjectState(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}

	snapshot, err := h.service.Snapshot(c.Request.Context(), c.Param("projectId"), identity.UserID)
	if err != nil {
		h.writeCollabError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotToView(snapshot))
}
