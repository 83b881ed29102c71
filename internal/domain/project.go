package domain

import "time"

// Project groups database instances under one owner.
type Project struct {
	ID          string
	UserID      string
	Name        string
	Slug        string
	Description string
	Settings    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectWithStats carries the instance count list views display.
type ProjectWithStats struct {
	Project
	DatabaseCount int
}
