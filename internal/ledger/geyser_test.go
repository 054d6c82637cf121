package ledger

import (
	"testing"

	"github.com/mr-tron/base58"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertGeyserTx(t *testing.T) {
	sig := make([]byte, 64)
	sig[0] = 9
	program := testProgram
	market := make([]byte, 32)
	market[0] = 1
	lookup := make([]byte, 32)
	lookup[0] = 2

	info := &pb.SubscribeUpdateTransactionInfo{
		Signature: sig,
		Transaction: &pb.Transaction{
			Signatures: [][]byte{sig},
			Message: &pb.Message{
				AccountKeys: [][]byte{market, program[:]},
				Instructions: []*pb.CompiledInstruction{
					{ProgramIdIndex: 1, Accounts: []byte{0, 2}, Data: []byte{0, 1, 2}},
				},
			},
		},
		Meta: &pb.TransactionStatusMeta{
			LogMessages:             []string{"Program log: Instruction: PlaceOrder"},
			LoadedReadonlyAddresses: [][]byte{lookup},
			InnerInstructions: []*pb.InnerInstructions{
				{Index: 0, Instructions: []*pb.InnerInstruction{{ProgramIdIndex: 1, Accounts: []byte{0}, Data: []byte{7}}}},
			},
		},
	}

	tx, err := convertGeyserTx(55, info)
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(sig), tx.Signature)
	assert.Equal(t, uint64(55), tx.Slot)
	assert.Nil(t, tx.BlockTime)
	assert.False(t, tx.Failed)
	require.Len(t, tx.Instructions, 1)
	assert.Equal(t, []int{0, 2}, tx.Instructions[0].Accounts)
	assert.Equal(t, 1, tx.Instructions[0].ProgramIDIndex)
	require.Len(t, tx.InnerInstructions, 1)
	assert.Equal(t, []byte{7}, tx.InnerInstructions[0].Instructions[0].Data)
	assert.Equal(t, [][]byte{lookup}, tx.LoadedReadonly)
}

func TestConvertGeyserTx_MissingMessage(t *testing.T) {
	_, err := convertGeyserTx(1, &pb.SubscribeUpdateTransactionInfo{Signature: []byte{1}})
	assert.Error(t, err)
}

func TestBuildAccountRequest(t *testing.T) {
	req := buildAccountRequest(testProgram, AccountFilter{DataSize: 944})
	filter := req.Accounts["program"]
	require.NotNil(t, filter)
	assert.Equal(t, []string{testProgram.String()}, filter.Owner)
	require.Len(t, filter.Filters, 1)
	assert.Equal(t, uint64(944), filter.Filters[0].GetDatasize())
	assert.Equal(t, pb.CommitmentLevel_CONFIRMED, req.GetCommitment())
}

func TestBuildTransactionRequest(t *testing.T) {
	req := buildTransactionRequest(testProgram)
	filter := req.Transactions["program"]
	require.NotNil(t, filter)
	assert.False(t, filter.GetVote())
	assert.Equal(t, []string{testProgram.String()}, filter.AccountInclude)
}
