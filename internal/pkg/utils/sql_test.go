package utils

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToSQLStr(t *testing.T) {
	assert.Equal(t, sql.NullString{String: "olia", Valid: true}, ToSQLStr("olia"))
	assert.Equal(t, sql.NullString{String: "", Valid: false}, ToSQLStr(""))
}

func TestFromSQLStr(t *testing.T) {
	assert.Equal(t, "olia", FromSQLStr(sql.NullString{String: "olia", Valid: true}))
	assert.Equal(t, "", FromSQLStr(sql.NullString{String: "olia", Valid: false}))
}

func TestToSQLFloat(t *testing.T) {
	assert.Equal(t, sql.NullFloat64{Float64: 36.5, Valid: true}, ToSQLFloat(36.5))
}

func TestFromSQLTimeOrNil(t *testing.T) {
	now := time.Now()
	assert.Equal(t, &now, FromSQLTimeOrNil(sql.NullTime{Time: now, Valid: true}))
	assert.Nil(t, FromSQLTimeOrNil(sql.NullTime{}))
}
