package txadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook-indexer/internal/consts"
	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/ledger/ledgertest"
	"openbook-indexer/internal/types"
)

func TestAdaptTx_Basic(t *testing.T) {
	market := ledgertest.Key("market")
	owner := ledgertest.Key("owner")
	tx := ledgertest.BuildTx("sig1", 10, ledgertest.Int64Ptr(1700000000),
		ledgertest.Ix{Program: types.PubkeyFromBase58("ComputeBudget111111111111111111111111111111"), Data: []byte{2}},
		ledgertest.Ix{Program: consts.OpenBookV2Program, Accounts: []types.Pubkey{market, owner}, Data: []byte{0}},
	)
	// account keys: [computeBudget, openbook, market, owner]
	tx.InnerInstructions = []ledger.InnerInstructions{
		{Index: 1, Instructions: []ledger.CompiledInstruction{{ProgramIDIndex: 1, Accounts: []int{3}, Data: []byte{9}}}},
	}

	adapted, err := AdaptTx(tx, 0)
	require.NoError(t, err)
	assert.Equal(t, "sig1", adapted.Signature)
	assert.Equal(t, uint64(10), adapted.TxCtx.Slot)
	assert.True(t, adapted.TxCtx.HasTime)
	assert.Equal(t, int64(1700000000), adapted.TxCtx.BlockTime)

	require.Len(t, adapted.Instructions, 3)
	assert.Equal(t, types.PubkeyFromBase58("ComputeBudget111111111111111111111111111111"), adapted.Instructions[0].ProgramID)
	assert.True(t, adapted.Instructions[1].IsTopLevel())
	assert.Equal(t, []types.Pubkey{market, owner}, adapted.Instructions[1].Accounts)
	assert.Equal(t, uint16(1), adapted.Instructions[2].IxIndex)
	assert.Equal(t, uint16(1), adapted.Instructions[2].InnerIndex)
	assert.Equal(t, owner, adapted.Instructions[2].Accounts[0])

	top := adapted.TopLevelFor(consts.OpenBookV2Program)
	require.Len(t, top, 1)
	first, ok := top[0].FirstAccount()
	assert.True(t, ok)
	assert.Equal(t, market, first)
}

func TestAdaptTx_NotificationSlotWins(t *testing.T) {
	tx := ledgertest.BuildTx("sig2", 10, nil, ledgertest.Ix{Program: consts.OpenBookV2Program, Data: []byte{1}})

	adapted, err := AdaptTx(tx, 12)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), adapted.TxCtx.Slot)
	assert.False(t, adapted.TxCtx.HasTime)

	_, ok := adapted.Instructions[0].FirstAccount()
	assert.False(t, ok)
}

func TestAdaptTx_LookupTableAccounts(t *testing.T) {
	lookupMarket := ledgertest.Key("lookup-market")
	tx := ledgertest.BuildTx("sig3", 1, nil, ledgertest.Ix{Program: consts.OpenBookV2Program, Data: []byte{0}})
	tx.LoadedReadonly = [][]byte{lookupMarket[:]}
	tx.Instructions[0].Accounts = []int{1} // 指向 lookup table 中的地址

	adapted, err := AdaptTx(tx, 0)
	require.NoError(t, err)
	assert.Equal(t, lookupMarket, adapted.Instructions[0].Accounts[0])
}

func TestAdaptTx_Invalid(t *testing.T) {
	_, err := AdaptTx(nil, 0)
	assert.Error(t, err)

	tx := ledgertest.BuildTx("sig4", 1, nil, ledgertest.Ix{Program: consts.OpenBookV2Program, Data: []byte{0}})
	tx.Instructions[0].Accounts = []int{5}
	_, err = AdaptTx(tx, 0)
	assert.Error(t, err)

	tx = ledgertest.BuildTx("sig5", 1, nil, ledgertest.Ix{Program: consts.OpenBookV2Program, Data: []byte{0}})
	tx.AccountKeys[0] = []byte{1, 2, 3}
	_, err = AdaptTx(tx, 0)
	assert.Error(t, err)
}
