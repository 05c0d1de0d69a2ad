// Package directory reads participant profiles, plan tiers and property
// listings owned by other parts of the marketplace.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
)

type UserRecord struct {
	ID          string `gorm:"primaryKey;type:text"`
	DisplayName string `gorm:"column:display_name"`
	Name        string
	Email       string `gorm:"index"`
	AvatarURL   string `gorm:"column:avatar_url"`
	PlanTier    string `gorm:"column:plan_tier;default:free"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (UserRecord) TableName() string { return "users" }

type PropertyRecord struct {
	ID         string `gorm:"primaryKey;type:text"`
	OwnerID    string `gorm:"column:owner_id;index"`
	Title      string
	CoverImage string `gorm:"column:cover_image"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (PropertyRecord) TableName() string { return "properties" }

// Open picks the postgres driver for postgres DSNs and sqlite otherwise.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("opening directory database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Migrate creates the read tables. Only meant for local setups: in production
// the tables belong to the identity and listing services.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&UserRecord{}, &PropertyRecord{})
}

type Directory struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewDirectory(db *gorm.DB, log *slog.Logger) Directory {
	return Directory{db: db, log: log}
}

func (d Directory) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	var record UserRecord
	err := d.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Profile{}, fmt.Errorf("%w: user %s", errors.ErrNotFound, userID)
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("%w: loading user: %v", errors.ErrTransient, err)
	}
	return toProfile(record), nil
}

// GetProfiles returns the profiles found; unknown ids are simply absent.
func (d Directory) GetProfiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	ids := lo.Uniq(userIDs)
	if len(ids) == 0 {
		return map[string]domain.Profile{}, nil
	}
	var records []UserRecord
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: loading users: %v", errors.ErrTransient, err)
	}
	return lo.SliceToMap(records, func(r UserRecord) (string, domain.Profile) {
		return r.ID, toProfile(r)
	}), nil
}

func (d Directory) GetProperty(ctx context.Context, propertyID string) (domain.Property, error) {
	var record PropertyRecord
	err := d.db.WithContext(ctx).Where("id = ?", propertyID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Property{}, fmt.Errorf("%w: property %s", errors.ErrNotFound, propertyID)
	}
	if err != nil {
		return domain.Property{}, fmt.Errorf("%w: loading property: %v", errors.ErrTransient, err)
	}
	return toProperty(record), nil
}

func (d Directory) GetProperties(ctx context.Context, propertyIDs []string) (map[string]domain.Property, error) {
	ids := lo.Uniq(lo.Compact(propertyIDs))
	if len(ids) == 0 {
		return map[string]domain.Property{}, nil
	}
	var records []PropertyRecord
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: loading properties: %v", errors.ErrTransient, err)
	}
	return lo.SliceToMap(records, func(r PropertyRecord) (string, domain.Property) {
		return r.ID, toProperty(r)
	}), nil
}

func toProfile(r UserRecord) domain.Profile {
	return domain.Profile{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		Name:        r.Name,
		Email:       r.Email,
		AvatarURL:   r.AvatarURL,
		PlanTier:    domain.PlanTier(r.PlanTier),
	}
}

func toProperty(r PropertyRecord) domain.Property {
	return domain.Property{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		Title:      r.Title,
		CoverImage: r.CoverImage,
	}
}
