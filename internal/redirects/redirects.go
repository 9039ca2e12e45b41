// Package redirects stores per-site path redirects consulted when a request
// would otherwise end in a 404.
package redirects

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when no redirect matches the path.
var ErrNotFound = errors.New("redirect not found")

// Redirect maps an old path on a site to its new location. An empty NewPath
// marks the resource as permanently gone.
type Redirect struct {
	ID      uint   `gorm:"primaryKey"`
	SiteID  int    `gorm:"not null;uniqueIndex:idx_redirects_site_old_path"`
	OldPath string `gorm:"size:200;not null;uniqueIndex:idx_redirects_site_old_path"`
	NewPath string `gorm:"size:200"`
}

// Finder looks up redirects.
type Finder interface {
	Find(ctx context.Context, siteID int, path string) (*Redirect, error)
}

// GormRepository persists redirects with gorm.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository migrates the redirects table and returns a repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&Redirect{}); err != nil {
		return nil, fmt.Errorf("migrate redirects: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// Find returns the redirect for path on the given site.
func (r *GormRepository) Find(ctx context.Context, siteID int, path string) (*Redirect, error) {
	var redirect Redirect
	err := r.db.WithContext(ctx).
		Where("site_id = ? AND old_path = ?", siteID, path).
		First(&redirect).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find redirect: %w", err)
	}
	return &redirect, nil
}

// Save inserts or updates a redirect keyed by site and old path.
func (r *GormRepository) Save(ctx context.Context, redirect *Redirect) error {
	if redirect.SiteID <= 0 {
		return errors.New("redirect site id must be positive")
	}
	if !strings.HasPrefix(redirect.OldPath, "/") {
		return fmt.Errorf("redirect old path %q must start with /", redirect.OldPath)
	}

	var existing Redirect
	err := r.db.WithContext(ctx).
		Where("site_id = ? AND old_path = ?", redirect.SiteID, redirect.OldPath).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := r.db.WithContext(ctx).Create(redirect).Error; err != nil {
			return fmt.Errorf("create redirect: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("find redirect: %w", err)
	}

	redirect.ID = existing.ID
	if err := r.db.WithContext(ctx).Save(redirect).Error; err != nil {
		return fmt.Errorf("update redirect: %w", err)
	}
	return nil
}

// Delete removes the redirect for path on the given site.
func (r *GormRepository) Delete(ctx context.Context, siteID int, path string) error {
	res := r.db.WithContext(ctx).
		Where("site_id = ? AND old_path = ?", siteID, path).
		Delete(&Redirect{})
	if res.Error != nil {
		return fmt.Errorf("delete redirect: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
