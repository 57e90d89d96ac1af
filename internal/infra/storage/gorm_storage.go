package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CartEntry 訪客購物車資料表
type CartEntry struct {
	CartKey   string `gorm:"column:cart_key;primaryKey;type:varchar(255)"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (CartEntry) TableName() string {
	return "guest_cart_entries"
}

// GormStorage 以 postgres 保存訪客購物車，適合需要長期保留的情境
type GormStorage struct {
	db *gorm.DB
}

func GetDbConn(dbname, host, port, user, pas string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=disable", user, pas, host, port, dbname)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// NewGormStorage 會自動建立資料表
func NewGormStorage(db *gorm.DB) (*GormStorage, error) {
	if err := db.AutoMigrate(&CartEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cart entries: %w", err)
	}
	return &GormStorage{db: db}, nil
}

var _ Storage = (*GormStorage)(nil)

func (g *GormStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var entry CartEntry
	err := g.db.WithContext(ctx).Where("cart_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return entry.Value, nil
}

func (g *GormStorage) Set(ctx context.Context, key string, value []byte) error {
	entry := CartEntry{CartKey: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cart_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (g *GormStorage) Delete(ctx context.Context, key string) error {
	if err := g.db.WithContext(ctx).Where("cart_key = ?", key).Delete(&CartEntry{}).Error; err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (g *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (g *GormStorage) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
