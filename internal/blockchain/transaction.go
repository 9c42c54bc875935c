package blockchain

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeBudgetProgramID is the compute budget program.
const ComputeBudgetProgramID = "ComputeBudget111111111111111111111111111111"

// TransactionBuilder signs serialized transactions and produces compute
// budget instructions for locally built curve trades.
type TransactionBuilder struct {
	wallet              *Wallet
	blockhashCache      *BlockhashCache
	priorityFeeLamports uint64
	computeUnitLimit    uint32
}

// NewTransactionBuilder creates a builder around one signing wallet.
func NewTransactionBuilder(wallet *Wallet, blockhashCache *BlockhashCache, priorityFeeLamports uint64) *TransactionBuilder {
	return &TransactionBuilder{
		wallet:              wallet,
		blockhashCache:      blockhashCache,
		priorityFeeLamports: priorityFeeLamports,
		computeUnitLimit:    600000,
	}
}

// SetComputeUnitLimit overrides the default compute unit limit.
func (b *TransactionBuilder) SetComputeUnitLimit(limit uint32) {
	b.computeUnitLimit = limit
}

// BuildComputeBudgetInstructions returns the SetComputeUnitLimit and
// SetComputeUnitPrice instruction payloads.
func (b *TransactionBuilder) BuildComputeBudgetInstructions() (setLimit []byte, setPrice []byte) {
	// SetComputeUnitLimit: [type=2][u32 limit]
	setLimit = make([]byte, 5)
	setLimit[0] = 2
	binary.LittleEndian.PutUint32(setLimit[1:], b.computeUnitLimit)

	// SetComputeUnitPrice: [type=3][u64 microlamports per CU]
	microLamportsPerCU := (b.priorityFeeLamports * 1_000_000) / uint64(b.computeUnitLimit)
	setPrice = make([]byte, 9)
	setPrice[0] = 3
	binary.LittleEndian.PutUint64(setPrice[1:], microLamportsPerCU)

	return setLimit, setPrice
}

// ComputeBudgetProgramIDBytes returns the program ID decoded.
func ComputeBudgetProgramIDBytes() []byte {
	raw, _ := base58.Decode(ComputeBudgetProgramID)
	return raw
}

// SignSerializedTransaction signs a base64 versioned transaction as the fee
// payer. The message follows the compact signature section; the first
// signature slot belongs to the payer.
func (b *TransactionBuilder) SignSerializedTransaction(serializedTxBase64 string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(serializedTxBase64)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	if len(txBytes) == 0 {
		return "", fmt.Errorf("empty transaction")
	}

	sigCount := int(txBytes[0])
	if sigCount == 0 {
		message := txBytes[1:]
		signature := b.wallet.Sign(message)

		signedTx := make([]byte, 1+64+len(message))
		signedTx[0] = 1
		copy(signedTx[1:65], signature)
		copy(signedTx[65:], message)
		return base64.StdEncoding.EncodeToString(signedTx), nil
	}

	messageOffset := 1 + sigCount*64
	if len(txBytes) <= messageOffset {
		return "", fmt.Errorf("malformed transaction: %d bytes, %d signatures", len(txBytes), sigCount)
	}

	message := txBytes[messageOffset:]
	signature := b.wallet.Sign(message)
	copy(txBytes[1:65], signature)

	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// GetRecentBlockhash returns the cached blockhash for locally built trades.
func (b *TransactionBuilder) GetRecentBlockhash() (string, error) {
	return b.blockhashCache.Get()
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
