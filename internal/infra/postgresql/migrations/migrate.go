package migrations

import (
	"github.com/boletapp/scan-engine/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_transactions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.TransactionModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions (user_id, date DESC, created_at DESC)`,
					`CREATE INDEX IF NOT EXISTS idx_transactions_batch_id ON transactions (batch_id)`,
					`CREATE INDEX IF NOT EXISTS idx_transactions_user_category ON transactions (user_id, category)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.TransactionModel{})
			},
		},
	})

	return m.Migrate()
}
