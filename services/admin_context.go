package services

import "github.com/aj9599/submeter-billing/models"

// AdminContext identifies the caller and the company partition every
// operation runs in. It is built from verified token claims and passed
// explicitly to each service call.
type AdminContext struct {
	AdminID int64
	UserID  int64
	Role    string
}

func (ac AdminContext) IsAdmin() bool {
	return ac.Role == models.RoleAdmin
}

// RequireAdmin rejects callers that are not the company's admin.
func (ac AdminContext) RequireAdmin() error {
	if !ac.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// RequireSameAdmin rejects path-scoped requests for another company's data.
func (ac AdminContext) RequireSameAdmin(adminID int64) error {
	if adminID != ac.AdminID {
		return ErrForbidden
	}
	return nil
}
