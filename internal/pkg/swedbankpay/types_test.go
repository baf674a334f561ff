package swedbankpay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionKind(t *testing.T) {
	tests := []struct {
		txType string
		want   TransactionKind
	}{
		{TypeVerification, KindVerification},
		{TypeCapture, KindCapture},
		{TypeSale, KindSale},
		{TypeCancellation, KindCancellation},
		{TypeReversal, KindRefund},
		{TypeAuthorization, KindOther},
		{"SomethingNew", KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.txType, func(t *testing.T) {
			assert.Equal(t, tt.want, Transaction{Type: tt.txType}.Kind())
		})
	}
}

func TestTransactionStates(t *testing.T) {
	assert.True(t, Transaction{State: StateFailed}.IsFailed())
	assert.True(t, Transaction{State: StateInitialized}.IsPending())
	assert.True(t, Transaction{State: StateAwaitingActivity}.IsPending())
	assert.False(t, Transaction{State: StateCompleted}.IsPending())
	assert.Equal(t, "unknown", Transaction{}.FailedDetails())
}

func TestFindByNumber(t *testing.T) {
	list := []Transaction{{ID: "a", Number: 1}, {ID: "b", Number: 2}}

	tx, ok := FindByNumber(list, 2)
	require.True(t, ok)
	assert.Equal(t, "b", tx.ID)

	_, ok = FindByNumber(list, 3)
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	client := &Client{PaymentMethodID: "b"}
	reg.Register("b", client)
	reg.Register("a", &Client{PaymentMethodID: "a"})

	got, err := reg.Get("b")
	require.NoError(t, err)
	assert.Same(t, client, got)

	_, err = reg.Get("missing")
	assert.True(t, errors.Is(err, ErrUnknownPaymentMethod))
	assert.Equal(t, []string{"a", "b"}, reg.IDs())
}
