package models

import (
	"time"
)

// Role is ordered by privilege: user < moderator < admin.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

var roleLevels = map[Role]int{
	RoleUser:      1,
	RoleModerator: 2,
	RoleAdmin:     3,
}

func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

func (r Role) Level() int {
	return roleLevels[r]
}

func (r Role) AtLeast(other Role) bool {
	return r.Level() >= other.Level()
}

func (r Role) Above(other Role) bool {
	return r.Level() > other.Level()
}

type User struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username      string    `gorm:"unique;not null"          json:"username"`
	Email         string    `gorm:"unique;not null"          json:"email"`
	PasswordHash  string    `gorm:"not null"                 json:"-"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Avatar        string    `json:"avatar"`
	Role          Role      `gorm:"not null;default:user"    json:"role"`
	EmailVerified bool      `gorm:"default:false"            json:"email_verified"`
	IsActive      bool      `gorm:"default:true"             json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Image struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint      `gorm:"index;not null"           json:"user_id"`
	URL         string    `gorm:"not null"                 json:"url"`
	PublicID    string    `gorm:"not null"                 json:"public_id"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Tags        []Tag     `gorm:"many2many:image_tags"     json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Tag struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"unique;not null"          json:"name"`
}
