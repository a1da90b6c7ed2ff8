package database

import (
	"gorm.io/gorm"

	"github.com/chartwellhealth/provider-portal/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.ProviderOrganization{},
		&models.Invitation{},
		&models.AoOrgLink{},
		&models.CdOrgLink{},
		&models.CacheEntry{},
	)
}
