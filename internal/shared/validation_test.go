package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sampleInput struct {
	SchoolID int64  `validate:"required"`
	Method   string `validate:"required,oneof=CASH CARD"`
	Count    int    `validate:"gte=1,lte=24"`
}

func TestValidateStructMessages(t *testing.T) {
	err := ValidateStruct(sampleInput{Method: "WIRE", Count: 30})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "SchoolID is required")
	require.Contains(t, err.Error(), "Method must be one of [CASH CARD]")
	require.Contains(t, err.Error(), "Count must be at most 24")

	require.NoError(t, ValidateStruct(sampleInput{SchoolID: 1, Method: "CASH", Count: 3}))
}
