package ws

import (
	"time"

	"care-messaging/internal/models"
)

type ConnInfo struct {
	ConnID      string
	UserID      string
	Role        models.Role
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
