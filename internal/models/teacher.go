package models

// Teacher is a read-only catalog entry; what a teacher teaches is expressed only through assignments.
type Teacher struct {
	ID       int64  `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email,omitempty"`
	Active   bool   `db:"active" json:"active"`
}
