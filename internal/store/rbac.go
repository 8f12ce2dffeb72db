package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/models"
)

func (s *GormStore) CreateRole(ctx context.Context, r *models.Role) error {
	return translate(s.db.WithContext(ctx).Create(r).Error, fmt.Sprintf("role %q", r.Name))
}

func (s *GormStore) RoleByID(ctx context.Context, id int64) (*models.Role, error) {
	var r models.Role
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("role %d", id))
	}
	return &r, nil
}

func (s *GormStore) SaveRole(ctx context.Context, r *models.Role) error {
	return translate(s.db.WithContext(ctx).Save(r).Error, fmt.Sprintf("role %q", r.Name))
}

// DeleteRole removes the role and every junction row that references it.
func (s *GormStore) DeleteRole(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", id).Delete(&models.UserRole{}).Error; err != nil {
			return err
		}
		if err := tx.Where("role_id = ?", id).Delete(&models.RolePermission{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Role{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: role %d", apperr.ErrNotFound, id)
		}
		return nil
	})
	return translate(err, fmt.Sprintf("delete role %d", id))
}

func (s *GormStore) MissingRoleIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []int64
	if err := s.db.WithContext(ctx).Model(&models.Role{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, translate(err, "lookup roles")
	}
	return missingIDs(ids, found), nil
}

// RolePermissionRows returns the flat role/permission join ordered by role
// id, then permission id.
func (s *GormStore) RolePermissionRows(ctx context.Context) ([]RolePermissionRow, error) {
	var rows []RolePermissionRow
	err := s.db.WithContext(ctx).Table("roles").
		Select(`roles.id AS role_id, roles.name AS role_name, roles.description AS role_description,
			roles.created_at AS role_created_at, roles.updated_at AS role_updated_at,
			permissions.id AS permission_id, permissions.name AS permission_name,
			permissions.description AS permission_description,
			permissions.resource_type AS permission_resource_type,
			permissions.action_type AS permission_action_type,
			permissions.created_at AS permission_created_at`).
		Joins("LEFT JOIN role_permissions ON role_permissions.role_id = roles.id").
		Joins("LEFT JOIN permissions ON permissions.id = role_permissions.permission_id").
		Order("roles.id").Order("permissions.id").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "list roles")
	}
	return rows, nil
}

func (s *GormStore) CreatePermission(ctx context.Context, p *models.Permission) error {
	return translate(s.db.WithContext(ctx).Create(p).Error, fmt.Sprintf("permission %q", p.Name))
}

func (s *GormStore) PermissionByID(ctx context.Context, id int64) (*models.Permission, error) {
	var p models.Permission
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("permission %d", id))
	}
	return &p, nil
}

func (s *GormStore) UpdatePermissionDescription(ctx context.Context, id int64, description string) error {
	res := s.db.WithContext(ctx).Model(&models.Permission{}).Where("id = ?", id).
		UpdateColumn("description", description)
	if res.Error != nil {
		return translate(res.Error, fmt.Sprintf("permission %d", id))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: permission %d", apperr.ErrNotFound, id)
	}
	return nil
}

// DeletePermission removes the permission and its role grants.
func (s *GormStore) DeletePermission(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("permission_id = ?", id).Delete(&models.RolePermission{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Permission{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: permission %d", apperr.ErrNotFound, id)
		}
		return nil
	})
	return translate(err, fmt.Sprintf("delete permission %d", id))
}

func (s *GormStore) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var perms []models.Permission
	if err := s.db.WithContext(ctx).Order("id").Find(&perms).Error; err != nil {
		return nil, translate(err, "list permissions")
	}
	return perms, nil
}

func (s *GormStore) MissingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []int64
	if err := s.db.WithContext(ctx).Model(&models.Permission{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, translate(err, "lookup permissions")
	}
	return missingIDs(ids, found), nil
}

func (s *GormStore) AddUserRoles(ctx context.Context, rows []models.UserRole) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&rows).Error
	return translate(err, "role assignment")
}

func (s *GormStore) RemoveUserRole(ctx context.Context, userID, roleID int64) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND role_id = ?", userID, roleID).Delete(&models.UserRole{})
	if res.Error != nil {
		return translate(res.Error, "role assignment")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %d does not hold role %d", apperr.ErrNotFound, userID, roleID)
	}
	return nil
}

func (s *GormStore) ClearUserRoles(ctx context.Context, userID int64) error {
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.UserRole{}).Error
	return translate(err, fmt.Sprintf("clear roles of user %d", userID))
}

func (s *GormStore) RolesOfUser(ctx context.Context, userID int64) ([]models.Role, error) {
	var roles []models.Role
	err := s.db.WithContext(ctx).Model(&models.Role{}).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.id").
		Find(&roles).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("roles of user %d", userID))
	}
	return roles, nil
}

func (s *GormStore) AddRolePermissions(ctx context.Context, rows []models.RolePermission) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&rows).Error
	return translate(err, "permission grant")
}

func (s *GormStore) RemoveRolePermission(ctx context.Context, roleID, permissionID int64) error {
	res := s.db.WithContext(ctx).Where("role_id = ? AND permission_id = ?", roleID, permissionID).Delete(&models.RolePermission{})
	if res.Error != nil {
		return translate(res.Error, "permission grant")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: role %d does not hold permission %d", apperr.ErrNotFound, roleID, permissionID)
	}
	return nil
}

// PermissionsOfRoles returns one row per (role, permission) grant; callers
// take the union.
func (s *GormStore) PermissionsOfRoles(ctx context.Context, roleIDs []int64) ([]models.Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	var perms []models.Permission
	err := s.db.WithContext(ctx).Model(&models.Permission{}).
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Where("role_permissions.role_id IN ?", roleIDs).
		Order("permissions.id").
		Find(&perms).Error
	if err != nil {
		return nil, translate(err, "permissions of roles")
	}
	return perms, nil
}
