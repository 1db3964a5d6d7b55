package caregiver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"medsconnect/internal/apperr"
	"medsconnect/internal/auth"
	"medsconnect/internal/caregiver"
	"medsconnect/internal/db/dbtest"
)

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

type env struct {
	db   *gorm.DB
	svc  *caregiver.Service
	now  *time.Time
	pat  auth.User
	care auth.User
}

func setup(t *testing.T) *env {
	t.Helper()
	gdb := dbtest.Open(t)
	now := fixedNow
	e := &env{db: gdb, now: &now}
	e.svc = &caregiver.Service{DB: gdb, Clock: func() time.Time { return *e.now }}
	e.pat = e.user(t, "pat", auth.RolePatient)
	e.care = e.user(t, "care", auth.RoleCaregiver)
	return e
}

func (e *env) user(t *testing.T, name string, role auth.Role) auth.User {
	t.Helper()
	u := auth.User{Username: name, Email: name + "@example.com", PasswordHash: "x", Role: role, CreatedAt: fixedNow}
	require.NoError(t, e.db.Create(&u).Error)
	return u
}

func (e *env) link(t *testing.T, approve bool) *caregiver.Relationship {
	t.Helper()
	rel, err := e.svc.SendRequest(context.Background(), e.pat.ID, e.care.Email, "son")
	require.NoError(t, err)
	if approve {
		rel, err = e.svc.Approve(context.Background(), rel.ID)
		require.NoError(t, err)
	}
	return rel
}

func TestSendRequest(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	rel, err := e.svc.SendRequest(ctx, e.pat.ID, "  CARE@example.com ", " son ")
	require.NoError(t, err)
	assert.Equal(t, e.pat.ID, rel.PatientID)
	assert.Equal(t, e.care.ID, rel.CaregiverID)
	assert.Equal(t, "son", rel.Label)
	assert.False(t, rel.IsApproved)
	assert.Nil(t, rel.ApprovedAt)
	assert.Equal(t, fixedNow, rel.RequestedAt)
	assert.True(t, rel.CanViewMedications)
	assert.True(t, rel.CanViewLogs)
	assert.True(t, rel.CanReceiveAlerts)
	require.NotNil(t, rel.Caregiver)
	assert.Equal(t, "care", rel.Caregiver.Username)
}

func TestSendRequestRejects(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := e.svc.SendRequest(ctx, e.pat.ID, "", "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = e.svc.SendRequest(ctx, e.pat.ID, "ghost@example.com", "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.Equal(t, "no user with that email", err.Error())

	_, err = e.svc.SendRequest(ctx, e.pat.ID, e.pat.Email, "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, "you cannot add yourself as a caregiver", err.Error())

	e.link(t, false)
	_, err = e.svc.SendRequest(ctx, e.pat.ID, e.care.Email, "again")
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	// the reverse direction is a different pair
	_, err = e.svc.SendRequest(ctx, e.care.ID, e.pat.Email, "")
	assert.NoError(t, err)
}

func TestApproveRestamps(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	rel := e.link(t, false)

	first, err := e.svc.Approve(ctx, rel.ID)
	require.NoError(t, err)
	assert.True(t, first.IsApproved)
	require.NotNil(t, first.ApprovedAt)
	assert.Equal(t, fixedNow, *first.ApprovedAt)

	*e.now = fixedNow.Add(time.Hour)
	second, err := e.svc.Approve(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(time.Hour), *second.ApprovedAt)

	stored, err := e.svc.Get(ctx, rel.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ApprovedAt)
	assert.True(t, stored.ApprovedAt.Equal(fixedNow.Add(time.Hour)))

	_, err = e.svc.Approve(ctx, 999)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestRejectAndRemove(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	pending := e.link(t, false)
	require.NoError(t, e.svc.Reject(ctx, pending.ID))
	_, err := e.svc.Get(ctx, pending.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.True(t, errors.Is(e.svc.Reject(ctx, pending.ID), apperr.ErrNotFound))

	approved := e.link(t, true)
	require.NoError(t, e.svc.Remove(ctx, approved.ID))
	assert.True(t, errors.Is(e.svc.Remove(ctx, approved.ID), apperr.ErrNotFound))

	// the pair can be requested again once removed
	e.link(t, false)
}

func TestListings(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	other := e.user(t, "other", auth.RoleCaregiver)

	e.link(t, true)
	*e.now = fixedNow.Add(time.Minute)
	pending, err := e.svc.SendRequest(ctx, e.pat.ID, other.Email, "")
	require.NoError(t, err)

	cgs, err := e.svc.ListCaregivers(ctx, e.pat.ID)
	require.NoError(t, err)
	require.Len(t, cgs, 1)
	require.NotNil(t, cgs[0].Caregiver)
	assert.Equal(t, e.care.ID, cgs[0].Caregiver.ID)

	pats, err := e.svc.ListPatients(ctx, e.care.ID)
	require.NoError(t, err)
	require.Len(t, pats, 1)
	require.NotNil(t, pats[0].Patient)
	assert.Equal(t, e.pat.ID, pats[0].Patient.ID)

	none, err := e.svc.ListPatients(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, none)

	forPatient, err := e.svc.ListPending(ctx, e.pat.ID)
	require.NoError(t, err)
	require.Len(t, forPatient, 1)
	assert.Equal(t, pending.ID, forPatient[0].ID)

	forOther, err := e.svc.ListPending(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, forOther, 1)
	assert.Equal(t, pending.ID, forOther[0].ID)

	forCare, err := e.svc.ListPending(ctx, e.care.ID)
	require.NoError(t, err)
	assert.Empty(t, forCare)
}

func TestAuthorize(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	assert.NoError(t, e.svc.Authorize(ctx, e.pat.ID, e.pat.ID, caregiver.ViewLogs))

	err := e.svc.Authorize(ctx, e.care.ID, e.pat.ID, caregiver.ViewLogs)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	rel := e.link(t, false)
	err = e.svc.Authorize(ctx, e.care.ID, e.pat.ID, caregiver.ViewLogs)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "pending link grants nothing")

	_, err = e.svc.Approve(ctx, rel.ID)
	require.NoError(t, err)
	assert.NoError(t, e.svc.Authorize(ctx, e.care.ID, e.pat.ID, caregiver.ViewLogs))
	assert.NoError(t, e.svc.Authorize(ctx, e.care.ID, e.pat.ID, caregiver.ViewMedications))

	upd, err := e.svc.UpdatePermissions(ctx, rel.ID, true, false, false)
	require.NoError(t, err)
	assert.True(t, upd.CanViewMedications)
	assert.False(t, upd.CanViewLogs)
	assert.True(t, upd.IsApproved)

	err = e.svc.Authorize(ctx, e.care.ID, e.pat.ID, caregiver.ViewLogs)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.Equal(t, "caregiver lacks view_logs permission", err.Error())
	assert.NoError(t, e.svc.Authorize(ctx, e.care.ID, e.pat.ID, caregiver.ViewMedications))

	// permissions are one-way
	err = e.svc.Authorize(ctx, e.pat.ID, e.care.ID, caregiver.ViewMedications)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = e.svc.UpdatePermissions(ctx, 999, true, true, true)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestAlertRecipients(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	quiet := e.user(t, "quiet", auth.RoleCaregiver)
	waiting := e.user(t, "waiting", auth.RoleCaregiver)

	e.link(t, true)
	rel, err := e.svc.SendRequest(ctx, e.pat.ID, quiet.Email, "")
	require.NoError(t, err)
	_, err = e.svc.Approve(ctx, rel.ID)
	require.NoError(t, err)
	_, err = e.svc.UpdatePermissions(ctx, rel.ID, true, true, false)
	require.NoError(t, err)
	_, err = e.svc.SendRequest(ctx, e.pat.ID, waiting.Email, "")
	require.NoError(t, err)

	ids, err := e.svc.AlertRecipients(ctx, e.pat.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{e.care.ID}, ids)
}

func TestGetForParty(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	stranger := e.user(t, "stranger", auth.RolePatient)
	rel := e.link(t, false)

	got, err := e.svc.GetForParty(ctx, rel.ID, e.pat.ID)
	require.NoError(t, err)
	assert.Equal(t, rel.ID, got.ID)

	_, err = e.svc.GetForParty(ctx, rel.ID, e.care.ID)
	require.NoError(t, err)

	_, err = e.svc.GetForParty(ctx, rel.ID, stranger.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestNotSelfCheckEnforcedByStore(t *testing.T) {
	e := setup(t)
	rel := caregiver.Relationship{PatientID: e.pat.ID, CaregiverID: e.pat.ID, RequestedAt: fixedNow}
	assert.Error(t, e.db.Create(&rel).Error)
}

func TestRelationshipAllows(t *testing.T) {
	r := caregiver.Relationship{CanViewMedications: true, CanViewLogs: false, CanReceiveAlerts: true}
	assert.False(t, r.Allows(caregiver.ViewMedications))

	r.IsApproved = true
	assert.True(t, r.Allows(caregiver.ViewMedications))
	assert.False(t, r.Allows(caregiver.ViewLogs))
	assert.True(t, r.Allows(caregiver.ReceiveAlerts))
	assert.False(t, r.Allows(caregiver.Permission(0)))
}
