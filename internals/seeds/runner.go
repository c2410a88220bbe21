package seeds

import (
	"path/filepath"

	"gorm.io/gorm"

	schedules "kapalku_backend/internals/seeds/schedules"
)

// RunAllSeeds loads every seed file found under dir.
func RunAllSeeds(db *gorm.DB, dir string) error {
	//* Schedules (jadwal kapal)
	return schedules.SeedSchedulesFromJSON(db, filepath.Join(dir, "schedules", "data_schedules.json"))
}
