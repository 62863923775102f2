package models

// AllTables returns a slice of all tables in the database.
func AllTables() []interface{} {
	return []interface{}{
		&UserLink{},
		&PendingAuthorization{},
		&Registration{},
		&Checkin{}, &CheckinRequest{},
	}
}
