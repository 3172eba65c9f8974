package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebank/internal/model"
)

type sample struct {
	Name     string    `json:"name" validate:"required"`
	Score    int       `json:"score" validate:"gte=1,lte=5"`
	Where    string    `json:"where" validate:"required,location_type"`
	Start    time.Time `json:"start" validate:"required"`
	End      time.Time `json:"end" validate:"required,gtfield=Start"`
	Internal string    `json:"-"`
}

func validSample() sample {
	now := time.Now()
	return sample{Name: "x", Score: 3, Where: "online", Start: now, End: now.Add(time.Hour)}
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(validSample()))
}

func TestStruct_ReportsJSONFieldName(t *testing.T) {
	s := validSample()
	s.Name = ""

	err := Struct(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)

	var vErr *model.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "name", vErr.Field)
	assert.Equal(t, "is required", vErr.Message)
}

func TestStruct_CustomLocationType(t *testing.T) {
	s := validSample()
	s.Where = "moon"

	var vErr *model.ValidationError
	require.ErrorAs(t, Struct(s), &vErr)
	assert.Equal(t, "where", vErr.Field)
	assert.Equal(t, "must be online or on_campus", vErr.Message)
}

func TestStruct_Ranges(t *testing.T) {
	s := validSample()
	s.Score = 6

	var vErr *model.ValidationError
	require.ErrorAs(t, Struct(s), &vErr)
	assert.Equal(t, "score", vErr.Field)

	s = validSample()
	s.End = s.Start
	require.ErrorAs(t, Struct(s), &vErr)
	assert.Equal(t, "end", vErr.Field)
}
