package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-thesis-api/internal/models"
	appErrors "github.com/noah-isme/sma-thesis-api/pkg/errors"
)

var (
	adminActor      = &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	studentActor    = &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}
	otherStudent    = &models.JWTClaims{UserID: "student-2", Role: models.RoleStudent}
	supervisorActor = &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}
	otherTeacher    = &models.JWTClaims{UserID: "teacher-2", Role: models.RoleTeacher}
)

func policyThesis() *models.Thesis {
	return &models.Thesis{ID: "t1", StudentRef: "student-1", SupervisorRef: "teacher-1", Status: models.ThesisStatusUnderReview}
}

func TestPolicyRead(t *testing.T) {
	p := NewThesisPolicy(nil)
	thesis := policyThesis()
	assert.NoError(t, p.CanRead(adminActor, thesis))
	assert.NoError(t, p.CanRead(studentActor, thesis))
	assert.NoError(t, p.CanRead(supervisorActor, thesis))
	assert.ErrorIs(t, p.CanRead(otherStudent, thesis), appErrors.ErrForbidden)
	assert.ErrorIs(t, p.CanRead(otherTeacher, thesis), appErrors.ErrForbidden)
	assert.ErrorIs(t, p.CanRead(nil, thesis), appErrors.ErrUnauthorized)
}

func TestPolicyModifyAndCreate(t *testing.T) {
	p := NewThesisPolicy(nil)
	thesis := policyThesis()
	assert.NoError(t, p.CanModify(studentActor, thesis))
	assert.ErrorIs(t, p.CanModify(supervisorActor, thesis), appErrors.ErrForbidden)
	assert.NoError(t, p.CanCreate(studentActor, "student-1"))
	assert.ErrorIs(t, p.CanCreate(studentActor, "student-2"), appErrors.ErrForbidden)
	assert.ErrorIs(t, p.CanCreate(supervisorActor, "student-1"), appErrors.ErrForbidden)
	assert.NoError(t, p.CanCreate(adminActor, "student-9"))
}

func TestPolicyTransitionsByRole(t *testing.T) {
	p := NewThesisPolicy(nil)
	thesis := policyThesis()

	assert.NoError(t, p.CanTransition(studentActor, thesis, models.ThesisStatusSubmitted))
	assert.ErrorIs(t, p.CanTransition(studentActor, thesis, models.ThesisStatusApproved), appErrors.ErrForbidden)
	assert.NoError(t, p.CanTransition(supervisorActor, thesis, models.ThesisStatusRevisionNeeded))
	assert.ErrorIs(t, p.CanTransition(supervisorActor, thesis, models.ThesisStatusSubmitted), appErrors.ErrForbidden)
	assert.ErrorIs(t, p.CanTransition(otherTeacher, thesis, models.ThesisStatusApproved), appErrors.ErrForbidden)
	assert.ErrorIs(t, p.CanTransition(supervisorActor, thesis, models.ThesisStatusPublished), appErrors.ErrForbidden)
	assert.NoError(t, p.CanTransition(adminActor, thesis, models.ThesisStatusPublished))
}

func TestPolicyPublisherRolesConfigurable(t *testing.T) {
	p := NewThesisPolicy([]string{"teacher"})
	thesis := policyThesis()
	assert.NoError(t, p.CanTransition(supervisorActor, thesis, models.ThesisStatusPublished))
	assert.ErrorIs(t, p.CanTransition(otherTeacher, thesis, models.ThesisStatusPublished), appErrors.ErrForbidden)
	assert.ErrorIs(t, p.CanTransition(adminActor, thesis, models.ThesisStatusPublished), appErrors.ErrForbidden)
}

func TestPolicyScope(t *testing.T) {
	p := NewThesisPolicy(nil)

	filter := models.ThesisFilter{}
	require.NoError(t, p.Scope(studentActor, &filter))
	assert.Equal(t, "student-1", filter.StudentRef)

	filter = models.ThesisFilter{StudentRef: "student-2"}
	assert.ErrorIs(t, p.Scope(studentActor, &filter), appErrors.ErrForbidden)

	filter = models.ThesisFilter{}
	require.NoError(t, p.Scope(supervisorActor, &filter))
	assert.Equal(t, "teacher-1", filter.SupervisorRef)

	filter = models.ThesisFilter{StudentRef: "student-7"}
	require.NoError(t, p.Scope(adminActor, &filter))
	assert.Equal(t, "student-7", filter.StudentRef)
}
