package custody

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdledger/internal/ledger/models"
	id "crowdledger/pkg/domain"
)

var (
	alice = id.MustIdentity("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	bob   = id.MustIdentity("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

func transferTo(recipient id.Identity, amount int64) *models.Transfer {
	return models.NewTransfer(models.TransferKindRefund, 1, recipient, decimal.NewFromInt(amount), decimal.Zero, time.Now())
}

func TestVault_Transfer(t *testing.T) {
	ctx := context.Background()

	t.Run("credits recipient", func(t *testing.T) {
		v := NewVault()
		require.NoError(t, v.Transfer(ctx, transferTo(alice, 5)))
		require.NoError(t, v.Transfer(ctx, transferTo(alice, 7)))
		require.NoError(t, v.Transfer(ctx, transferTo(bob, 1)))
		assert.Equal(t, "12", v.Balance(alice).String())
		assert.Equal(t, "13", v.TotalPaid().String())
	})

	t.Run("rejecting recipient receives nothing", func(t *testing.T) {
		v := NewVault()
		v.Reject(alice)
		err := v.Transfer(ctx, transferTo(alice, 5))
		assert.ErrorIs(t, err, ErrRecipientRejected)
		assert.True(t, v.Balance(alice).IsZero())

		v.Accept(alice)
		require.NoError(t, v.Transfer(ctx, transferTo(alice, 5)))
		assert.Equal(t, "5", v.Balance(alice).String())
	})

	t.Run("hook can re-enter and veto", func(t *testing.T) {
		v := NewVault()
		calls := 0
		v.OnReceive(alice, func(ctx context.Context, tr *models.Transfer) error {
			calls++
			// re-entrant transfer must not deadlock
			return v.Transfer(ctx, transferTo(bob, 1))
		})
		require.NoError(t, v.Transfer(ctx, transferTo(alice, 5)))
		assert.Equal(t, 1, calls)
		assert.Equal(t, "1", v.Balance(bob).String())

		veto := errors.New("no thanks")
		v.OnReceive(alice, func(context.Context, *models.Transfer) error { return veto })
		assert.ErrorIs(t, v.Transfer(ctx, transferTo(alice, 5)), veto)
		assert.Equal(t, "5", v.Balance(alice).String())

		v.OnReceive(alice, nil)
		require.NoError(t, v.Transfer(ctx, transferTo(alice, 1)))
	})
}
