package driver

import (
	"fmt"

	"gorm.io/gorm"
)

// FromGorm adapts the *sql.DB behind a host gorm handle. The dialect follows
// the gorm dialector name ("mysql", "postgres", "sqlite"). Closing the
// connector leaves the gorm handle open.
func FromGorm(db *gorm.DB) (Connector, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm handle has no *sql.DB: %w", err)
	}
	name := ""
	if db.Dialector != nil {
		name = db.Dialector.Name()
	}
	return FromDB(sqlDB, name), nil
}
