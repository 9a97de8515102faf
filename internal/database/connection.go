// internal/database/connection.go
package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/homeplate/homeplate-backend/internal/config"
	"github.com/homeplate/homeplate-backend/internal/models"
)

var DB *gorm.DB

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var err error
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		}
	} else {
		gormConfig = &gorm.Config{
			Logger: logger.Default.LogMode(logger.Info),
		}
	}

	// Connect to database
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")
	return DB, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting underlying sql.DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	} else {
		log.Println("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	// Enable UUID extension
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error; err != nil {
		return fmt.Errorf("failed to create UUID extension: %w", err)
	}

	// Run auto-migrations
	err := db.AutoMigrate(
		&models.Transaction{},
		&models.MealComponent{},
		&models.TransactionServiceFee{},
		&models.VerificationToken{},
		&models.PaymentHold{},
		&models.LedgerEntry{},
		&models.FeeScheduleVersion{},
		&models.ServiceFeeEntry{},
		&models.AuditLog{},
		&models.TransitionNotification{},
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// Transaction indexes
		"CREATE INDEX IF NOT EXISTS idx_transactions_host ON transactions(host_id)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_state ON transactions(state)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_host_state ON transactions(host_id, state)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at DESC)",
		// Expiry sweep scans awaiting_arrival rows past their deadline.
		"CREATE INDEX IF NOT EXISTS idx_transactions_expiry ON transactions(state, expires_at)",

		// Component and fee indexes
		"CREATE INDEX IF NOT EXISTS idx_meal_components_transaction ON meal_components(transaction_id)",
		"CREATE INDEX IF NOT EXISTS idx_transaction_service_fees_transaction ON transaction_service_fees(transaction_id)",

		// Token indexes
		"CREATE INDEX IF NOT EXISTS idx_verification_tokens_status ON verification_tokens(status, expires_at)",

		// Escrow indexes
		"CREATE INDEX IF NOT EXISTS idx_payment_holds_status ON payment_holds(status)",
		"CREATE INDEX IF NOT EXISTS idx_ledger_entries_hold ON ledger_entries(hold_id)",
		"CREATE INDEX IF NOT EXISTS idx_ledger_entries_host_type ON ledger_entries(host_id, entry_type)",
		"CREATE INDEX IF NOT EXISTS idx_ledger_entries_transaction ON ledger_entries(transaction_id)",

		// Audit indexes
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_user_action ON audit_logs(user_id, action)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_transition_notifications_transaction ON transition_notifications(transaction_id, occurred_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			log.Printf("Warning: Failed to create index: %s, Error: %v", index, err)
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// Seed initial data
func SeedInitialData(db *gorm.DB) error {
	log.Println("Seeding initial data...")

	var scheduleCount int64
	db.Model(&models.FeeScheduleVersion{}).Count(&scheduleCount)

	if scheduleCount == 0 {
		schedule := &models.FeeScheduleVersion{
			Version:         1,
			MaxFeeFraction:  0.20,
			PackageDiscount: 0.15,
			Active:          true,
			Entries: []models.ServiceFeeEntry{
				{ServiceID: "table_setting", BaseFee: 5.00, Label: "Table setting"},
				{ServiceID: "cleanup_service", BaseFee: 3.00, Label: "Cleanup service"},
				{ServiceID: "grocery_shopping", BaseFee: 6.00, Label: "Grocery shopping"},
				{ServiceID: "beverage_pairing", BaseFee: 4.00, Label: "Beverage pairing"},
				{ServiceID: "custom_menu_card", BaseFee: 2.00, Label: "Custom menu card"},
			},
		}

		if err := db.Create(schedule).Error; err != nil {
			return fmt.Errorf("failed to seed fee schedule: %w", err)
		}

		log.Println("Default fee schedule created successfully")
	}

	log.Println("Initial data seeding completed")
	return nil
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
