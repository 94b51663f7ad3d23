package utils

import (
	"database/sql"
	"time"
)

// ToSQLStr creates new sql str instance
func ToSQLStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// FromSQLStr returns string from sql.NullString
func FromSQLStr(sqlStr sql.NullString) string {
	if sqlStr.Valid {
		return sqlStr.String
	}
	return ""
}

// ToSQLFloat creates new sql float instance
func ToSQLFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: true}
}

// FromSQLTimeOrNil returns time ptr from sql.NullTime
func FromSQLTimeOrNil(sqlData sql.NullTime) *time.Time {
	if sqlData.Valid {
		return &sqlData.Time
	}
	return nil
}
