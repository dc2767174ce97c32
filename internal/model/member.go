package model

// Member is a payer tracked directly. Its paid amount is never stored; it is
// summed from completed transactions on read.
type Member struct {
	ID      int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name    string `gorm:"type:varchar(128);not null" json:"name"`
	Part    string `gorm:"type:varchar(64);index" json:"part"`
	Contact string `gorm:"type:varchar(128);uniqueIndex;not null" json:"contact"`
	RegNo   string `gorm:"type:varchar(64)" json:"reg_no,omitempty"`
	Audit
}

func (Member) TableName() string {
	return "members"
}

// Identifier is the value the external ledger row is matched on.
func (m *Member) Identifier() string {
	if m.RegNo != "" {
		return m.RegNo
	}
	return m.Contact
}
