package user

import (
	"errors"
	"strings"
	"time"
)

type Role string

const (
	RoleDriver Role = "driver"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrEmailTaken    = errors.New("email already in use")
	ErrUsernameTaken = errors.New("username already in use")
	ErrInvalidRole   = errors.New("invalid role")
)

// ParseRole maps a wire value onto the closed role set.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDriver:
		return RoleDriver, nil
	case RoleOwner:
		return RoleOwner, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// SelfServiceRole reports whether the role can be picked at registration.
func (r Role) SelfServiceRole() bool {
	return r == RoleDriver || r == RoleOwner
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     *string   `json:"username,omitempty"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	CompanyName  string    `json:"companyName,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	DriverProfile
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type DriverProfile struct {
	LicenseCategory string   `json:"licenseCategory,omitempty"`
	Location        string   `json:"location,omitempty"`
	Experience      string   `json:"experience,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	Rating          float64  `json:"rating"`
	Bio             string   `json:"bio,omitempty"`
	Verified        bool     `json:"verified"`
	Trips           int      `json:"trips"`
	WorkZone        string   `json:"workZone,omitempty"`
}

// NormalizeEmail is the case-insensitive key used for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Public is the identity shape returned by the auth endpoints.
type Public struct {
	ID              string  `json:"id"`
	Email           string  `json:"email"`
	Username        *string `json:"username,omitempty"`
	Name            string  `json:"name"`
	Role            Role    `json:"role"`
	CompanyName     string  `json:"companyName,omitempty"`
	LicenseCategory string  `json:"licenseCategory,omitempty"`
}

func (u User) Public() Public {
	return Public{
		ID:              u.ID,
		Email:           u.Email,
		Username:        u.Username,
		Name:            u.Name,
		Role:            u.Role,
		CompanyName:     u.CompanyName,
		LicenseCategory: u.LicenseCategory,
	}
}

// DriverCard is a directory row. Preview rows drop verification, trips and phone.
type DriverCard struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Location        string    `json:"location,omitempty"`
	Experience      string    `json:"experience,omitempty"`
	Categories      []string  `json:"categories"`
	LicenseCategory string    `json:"licenseCategory,omitempty"`
	Rating          float64   `json:"rating"`
	Bio             string    `json:"bio,omitempty"`
	WorkZone        string    `json:"workZone,omitempty"`
	Verified        *bool     `json:"verified,omitempty"`
	Trips           *int      `json:"trips,omitempty"`
	Phone           *string   `json:"phone,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (u User) DriverCard(preview bool) DriverCard {
	categories := u.Categories
	if categories == nil {
		categories = []string{}
	}

	c := DriverCard{
		ID:              u.ID,
		Name:            u.Name,
		Location:        u.Location,
		Experience:      u.Experience,
		Categories:      categories,
		LicenseCategory: u.LicenseCategory,
		Rating:          u.Rating,
		Bio:             u.Bio,
		WorkZone:        u.WorkZone,
		CreatedAt:       u.CreatedAt,
	}

	if preview {
		return c
	}

	verified := u.Verified
	trips := u.Trips
	phone := u.Phone
	c.Verified = &verified
	c.Trips = &trips
	c.Phone = &phone

	return c
}

type CreateRequest struct {
	Email           string
	Username        *string
	PasswordHash    string
	Name            string
	Role            Role
	CompanyName     string
	LicenseCategory string
}

func New(req CreateRequest, id string, now time.Time) User {
	u := User{
		ID:           id,
		Email:        NormalizeEmail(req.Email),
		PasswordHash: req.PasswordHash,
		Name:         strings.TrimSpace(req.Name),
		Role:         req.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if req.Username != nil {
		un := strings.ToLower(strings.TrimSpace(*req.Username))
		if un != "" {
			u.Username = &un
		}
	}

	switch req.Role {
	case RoleOwner:
		u.CompanyName = strings.TrimSpace(req.CompanyName)
	case RoleDriver:
		u.LicenseCategory = strings.TrimSpace(req.LicenseCategory)
	}

	return u
}

// ProfileUpdate is the self-service patch. Fields outside the caller's role are ignored.
type ProfileUpdate struct {
	Name            *string   `json:"name" binding:"omitempty,min=1,max=120"`
	Phone           *string   `json:"phone" binding:"omitempty,max=40"`
	CompanyName     *string   `json:"companyName" binding:"omitempty,max=160"`
	LicenseCategory *string   `json:"licenseCategory" binding:"omitempty,max=20"`
	Location        *string   `json:"location" binding:"omitempty,max=120"`
	Experience      *string   `json:"experience" binding:"omitempty,max=120"`
	Categories      *[]string `json:"categories" binding:"omitempty,max=20,dive,max=20"`
	Bio             *string   `json:"bio" binding:"omitempty,max=2000"`
	WorkZone        *string   `json:"workZone" binding:"omitempty,max=120"`
}

// Apply copies the fields the role is allowed to edit onto u.
func (p ProfileUpdate) Apply(u *User, now time.Time) {
	if p.Name != nil && strings.TrimSpace(*p.Name) != "" {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Phone != nil {
		u.Phone = strings.TrimSpace(*p.Phone)
	}

	switch u.Role {
	case RoleOwner:
		if p.CompanyName != nil {
			u.CompanyName = strings.TrimSpace(*p.CompanyName)
		}
	case RoleDriver:
		if p.LicenseCategory != nil {
			u.LicenseCategory = strings.TrimSpace(*p.LicenseCategory)
		}
		if p.Location != nil {
			u.Location = strings.TrimSpace(*p.Location)
		}
		if p.Experience != nil {
			u.Experience = strings.TrimSpace(*p.Experience)
		}
		if p.Categories != nil {
			u.Categories = append([]string(nil), (*p.Categories)...)
		}
		if p.Bio != nil {
			u.Bio = *p.Bio
		}
		if p.WorkZone != nil {
			u.WorkZone = strings.TrimSpace(*p.WorkZone)
		}
	case RoleAdmin:
	}

	u.UpdatedAt = now
}

// AdminUpdate is the admin user-edit patch, the only path that may change a role.
type AdminUpdate struct {
	Role            *string `json:"role" binding:"omitempty,oneof=driver owner admin"`
	Verified        *bool   `json:"verified"`
	Name            *string `json:"name" binding:"omitempty,min=1,max=120"`
	Phone           *string `json:"phone" binding:"omitempty,max=40"`
	CompanyName     *string `json:"companyName" binding:"omitempty,max=160"`
	LicenseCategory *string `json:"licenseCategory" binding:"omitempty,max=20"`
	Trips           *int    `json:"trips" binding:"omitempty,min=0"`
}

func (p AdminUpdate) Apply(u *User, now time.Time) error {
	if p.Role != nil {
		r, err := ParseRole(*p.Role)
		if err != nil {
			return err
		}
		u.Role = r
	}
	if p.Verified != nil {
		u.Verified = *p.Verified
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) != "" {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Phone != nil {
		u.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.CompanyName != nil {
		u.CompanyName = strings.TrimSpace(*p.CompanyName)
	}
	if p.LicenseCategory != nil {
		u.LicenseCategory = strings.TrimSpace(*p.LicenseCategory)
	}
	if p.Trips != nil {
		u.Trips = *p.Trips
	}
	u.UpdatedAt = now
	return nil
}

type ListFilter struct {
	Query string
	Role  *Role
	Limit int
}

type DriverFilter struct {
	Query    string
	Category string
	Limit    int
}
