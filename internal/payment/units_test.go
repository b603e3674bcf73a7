package payment

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1.00", 1_000_000},
		{"1", 1_000_000},
		{"0.000001", 1},
		{".5", 500_000},
		{"12.345678", 12_345_678},
		{" 2.5 ", 2_500_000},
	}
	for _, tt := range tests {
		got, err := ParseUnits(tt.in, 6)
		require.NoError(t, err, tt.in)
		assert.Equal(t, big.NewInt(tt.want), got, tt.in)
	}
}

func TestParseUnits_Rejects(t *testing.T) {
	for _, in := range []string{"", "-1", "+1", "1.0000001", "abc", "1.2.3", "1e6"} {
		_, err := ParseUnits(in, 6)
		assert.Error(t, err, in)
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.000000", FormatUnits(big.NewInt(1_000_000), 6))
	assert.Equal(t, "0.000001", FormatUnits(big.NewInt(1), 6))
	assert.Equal(t, "0.000000", FormatUnits(big.NewInt(0), 6))
	assert.Equal(t, "42", FormatUnits(big.NewInt(42), 0))
}
