package schedules

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	bookingModel "kapalku_backend/internals/features/booking/bookings/model"
	helper "kapalku_backend/internals/helpers"
)

type ScheduleSeed struct {
	RouteName   string    `json:"route_name"`
	VesselName  string    `json:"vessel_name"`
	DepartureAt time.Time `json:"departure_at"`
	SeatPrice   int64     `json:"seat_price"`
	Capacity    int       `json:"capacity"`
}

func parseSeeds(raw []byte) ([]bookingModel.Schedule, error) {
	var seeds []ScheduleSeed
	if err := sonic.Unmarshal(raw, &seeds); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	out := make([]bookingModel.Schedule, 0, len(seeds))
	for i, s := range seeds {
		if strings.TrimSpace(s.RouteName) == "" || s.Capacity <= 0 || s.SeatPrice <= 0 || s.DepartureAt.IsZero() {
			return nil, fmt.Errorf("seed #%d tidak lengkap", i)
		}
		out = append(out, bookingModel.Schedule{
			ScheduleRouteName:      strings.TrimSpace(s.RouteName),
			ScheduleVesselName:     s.VesselName,
			ScheduleDepartureAt:    s.DepartureAt,
			ScheduleSeatPrice:      s.SeatPrice,
			ScheduleCapacity:       s.Capacity,
			ScheduleAvailableSeats: s.Capacity,
		})
	}
	return out, nil
}

// SeedSchedulesFromJSON inserts sailings that are not there yet (same route and
// departure time).
func SeedSchedulesFromJSON(db *gorm.DB, filePath string) error {
	helper.Logger.Info("📥 Membaca file: ", filePath)

	file, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("baca file seed: %w", err)
	}
	rows, err := parseSeeds(file)
	if err != nil {
		return err
	}

	inserted := 0
	for _, row := range rows {
		var count int64
		if err := db.Model(&bookingModel.Schedule{}).
			Where("schedule_route_name = ? AND schedule_departure_at = ?", row.ScheduleRouteName, row.ScheduleDepartureAt).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		row := row
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("insert schedule %s: %w", row.ScheduleRouteName, err)
		}
		inserted++
	}
	helper.Logger.Infof("✅ %d jadwal baru di-seed (%d dilewati)", inserted, len(rows)-inserted)
	return nil
}
