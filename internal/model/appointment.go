package model

import "time"

// AppointmentStatus は面談予約の状態。
type AppointmentStatus string

const (
	AppointmentRequested AppointmentStatus = "requested"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment はログインユーザーからの面談予約リクエスト。
type Appointment struct {
	ID          string
	UserID      string
	Name        string
	Email       string
	Topic       string
	PreferredAt time.Time
	Message     string
	Status      AppointmentStatus
	CreatedAt   time.Time
}
