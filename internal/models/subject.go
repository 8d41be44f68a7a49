package models

// Subject represents an academic subject offered at one education level.
type Subject struct {
	ID             int64  `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	Code           string `db:"code" json:"code"`
	EducationLevel string `db:"education_level" json:"education_level"`
}

// FindSubject returns the subject with id from list.
func FindSubject(list []Subject, id int64) (Subject, bool) {
	for _, subject := range list {
		if subject.ID == id {
			return subject, true
		}
	}
	return Subject{}, false
}
