package models

import "time"

// CourseOffering is a scheduled instance of a course with a capacity limit.
// AdmittedCount is the seat ledger; it is only ever mutated through the
// conditional reserve/release queries so it can never exceed Capacity.
type CourseOffering struct {
	ID            string    `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	Description   *string   `db:"description" json:"description,omitempty"`
	Capacity      int       `db:"capacity" json:"capacity"`
	AdmittedCount int       `db:"admitted_count" json:"admitted_count"`
	Price         float64   `db:"price" json:"price"`
	StartsAt      time.Time `db:"starts_at" json:"starts_at"`
	EndsAt        time.Time `db:"ends_at" json:"ends_at"`
	CreatedBy     string    `db:"created_by" json:"created_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// OfferingStats summarises seat usage for an offering.
type OfferingStats struct {
	OfferingID    string `db:"id" json:"offering_id"`
	AdmittedCount int    `db:"admitted_count" json:"admitted_count"`
	Capacity      int    `db:"capacity" json:"capacity"`
}

// OfferingFilter provides filters for listing offerings.
type OfferingFilter struct {
	Search    string
	ActiveAt  *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
