package models

import "time"

// Device represents a monitored handset
type Device struct {
	ID          string     `json:"id" db:"id"`
	DeviceCode  string     `json:"deviceCode" db:"device_code"`
	PhoneNumber string     `json:"phoneNumber,omitempty" db:"phone_number"`
	DisplayName string     `json:"displayName" db:"display_name"`
	IsActive    bool       `json:"isActive" db:"is_active"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
}

// Label returns the name shown to operators
func (d *Device) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.DeviceCode
}

// AutoDeviceCode is the device code given to devices provisioned from a phone number
func AutoDeviceCode(phone string) string {
	return "AUTO-" + phone
}
