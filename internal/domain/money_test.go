package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMoneyToDecimal(t *testing.T) {
	m := NewMoney(123456, "XOF")
	require.Equal(t, "1234.56", m.ToDecimal().StringFixed(2))
	require.Equal(t, "1234.56 XOF", m.String())
}

func TestNormalizeCurrency(t *testing.T) {
	require.Equal(t, "XOF", NormalizeCurrency(" xof "))
	require.Equal(t, "EUR", NormalizeCurrency("eur"))
}

func TestWireAmountIsMinorUnits(t *testing.T) {
	require.Equal(t, "300", NewMoney(300, "XOF").WireAmount())
}
