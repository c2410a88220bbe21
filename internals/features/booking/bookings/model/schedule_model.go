package model

import (
	"time"

	"github.com/google/uuid"
)

// Schedule is one sailing. Available seats never go negative and return to
// their pre-booking value whenever a booking's payment definitively fails.
type Schedule struct {
	ScheduleID             uuid.UUID `gorm:"column:schedule_id;type:uuid;default:gen_random_uuid();primaryKey" json:"schedule_id"`
	ScheduleRouteName      string    `gorm:"column:schedule_route_name;type:varchar(120);not null" json:"schedule_route_name"`
	ScheduleVesselName     string    `gorm:"column:schedule_vessel_name;type:varchar(120)" json:"schedule_vessel_name"`
	ScheduleDepartureAt    time.Time `gorm:"column:schedule_departure_at;not null" json:"schedule_departure_at"`
	ScheduleSeatPrice      int64     `gorm:"column:schedule_seat_price;not null" json:"schedule_seat_price"`
	ScheduleCapacity       int       `gorm:"column:schedule_capacity;not null" json:"schedule_capacity"`
	ScheduleAvailableSeats int       `gorm:"column:schedule_available_seats;not null;check:schedule_available_seats >= 0" json:"schedule_available_seats"`

	ScheduleCreatedAt time.Time `gorm:"column:schedule_created_at;autoCreateTime" json:"schedule_created_at"`
	ScheduleUpdatedAt time.Time `gorm:"column:schedule_updated_at;autoUpdateTime" json:"schedule_updated_at"`
}

func (Schedule) TableName() string { return "schedules" }
