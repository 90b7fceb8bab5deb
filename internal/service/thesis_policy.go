package service

import (
	"strings"

	"github.com/noah-isme/sma-thesis-api/internal/models"
	appErrors "github.com/noah-isme/sma-thesis-api/pkg/errors"
)

// ThesisPolicy decides which actor may do what to a thesis. Administrators
// act on every record; students act on their own; teachers on those they
// supervise.
type ThesisPolicy struct {
	publishers map[models.UserRole]struct{}
}

// NewThesisPolicy builds a policy. publisherRoles lists the roles allowed to
// publish approved theses and defaults to SUPERADMIN and ADMIN.
func NewThesisPolicy(publisherRoles []string) *ThesisPolicy {
	if len(publisherRoles) == 0 {
		publisherRoles = []string{string(models.RoleSuperAdmin), string(models.RoleAdmin)}
	}
	publishers := make(map[models.UserRole]struct{}, len(publisherRoles))
	for _, role := range publisherRoles {
		publishers[models.UserRole(strings.ToUpper(strings.TrimSpace(role)))] = struct{}{}
	}
	return &ThesisPolicy{publishers: publishers}
}

var studentTargets = map[models.ThesisStatus]struct{}{
	models.ThesisStatusDraft:     {},
	models.ThesisStatusSubmitted: {},
}

var reviewerTargets = map[models.ThesisStatus]struct{}{
	models.ThesisStatusUnderReview:    {},
	models.ThesisStatusRevisionNeeded: {},
	models.ThesisStatusApproved:       {},
	models.ThesisStatusRejected:       {},
}

// CanCreate checks that the actor may open a thesis for studentRef.
func (p *ThesisPolicy) CanCreate(actor *models.JWTClaims, studentRef string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	switch {
	case actor.IsAdmin():
		return nil
	case actor.Role == models.RoleStudent && actor.UserID == studentRef:
		return nil
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "only the owning student or an administrator may create a thesis")
	}
}

// CanRead checks visibility of a single thesis.
func (p *ThesisPolicy) CanRead(actor *models.JWTClaims, thesis *models.Thesis) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.IsAdmin() || p.owns(actor, thesis) || p.supervises(actor, thesis) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "thesis is not accessible")
}

// CanModify covers descriptive edits, deletion and document binding, which
// belong to the owning student.
func (p *ThesisPolicy) CanModify(actor *models.JWTClaims, thesis *models.Thesis) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.IsAdmin() || p.owns(actor, thesis) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the owning student may modify this thesis")
}

// CanTransition checks that the actor may move thesis into target.
func (p *ThesisPolicy) CanTransition(actor *models.JWTClaims, thesis *models.Thesis, target models.ThesisStatus) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if target == models.ThesisStatusPublished {
		if _, ok := p.publishers[actor.Role]; !ok {
			return appErrors.Clone(appErrors.ErrForbidden, "role may not publish theses")
		}
		if actor.IsAdmin() || p.supervises(actor, thesis) || p.owns(actor, thesis) {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "thesis is not accessible")
	}
	if actor.IsAdmin() {
		return nil
	}
	if _, ok := studentTargets[target]; ok && p.owns(actor, thesis) {
		return nil
	}
	if _, ok := reviewerTargets[target]; ok && p.supervises(actor, thesis) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "actor may not move thesis to "+string(target))
}

// Scope narrows a listing filter to what the actor may see.
func (p *ThesisPolicy) Scope(actor *models.JWTClaims, filter *models.ThesisFilter) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin:
		return nil
	case models.RoleStudent:
		if filter.StudentRef != "" && filter.StudentRef != actor.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "students may only list their own theses")
		}
		filter.StudentRef = actor.UserID
		return nil
	case models.RoleTeacher:
		if filter.SupervisorRef != "" && filter.SupervisorRef != actor.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "teachers may only list supervised theses")
		}
		filter.SupervisorRef = actor.UserID
		return nil
	default:
		return appErrors.ErrForbidden
	}
}

func (p *ThesisPolicy) owns(actor *models.JWTClaims, thesis *models.Thesis) bool {
	return actor.Role == models.RoleStudent && thesis != nil && thesis.StudentRef == actor.UserID
}

func (p *ThesisPolicy) supervises(actor *models.JWTClaims, thesis *models.Thesis) bool {
	return actor.Role == models.RoleTeacher && thesis != nil && thesis.SupervisorRef == actor.UserID
}
