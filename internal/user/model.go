package user

import "time"

type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FullName        string    `json:"full_name,omitempty"`
	HashedPassword  string    `json:"-"` // never return
	IsHospitalStaff bool      `json:"is_hospital_staff"`
	IsSuperuser     bool      `json:"is_superuser"`
	IsActive        bool      `json:"is_active"`
	IsVerified      bool      `json:"is_verified"`
	IsVolunteer     bool      `json:"is_volunteer"`
	CreatedAt       time.Time `json:"created_at"`
}
