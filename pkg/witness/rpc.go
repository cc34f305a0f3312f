package witness

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
)

type Proof struct {
	AccountProof []string `json:"accountProof"`
	StorageProof []struct {
		Key   string   `json:"key"`
		Value string   `json:"value"`
		Proof []string `json:"proof"`
	} `json:"storageProof"`
	StorageHash string `json:"storageHash"`
	CodeHash    string `json:"codeHash"`
	Balance     string `json:"balance"`
	Nonce       string `json:"nonce"`
}

func FetchProof(
	ctx context.Context,
	cli *ethclient.Client,
	contract common.Address,
	slotKey common.Hash,
	block uint64,
) (*Proof, error) {

	var p Proof
	err := cli.Client().CallContext(
		ctx, &p, "eth_getProof",
		contract,
		[]string{slotKey.Hex()}, // slot list as hex-strings
		hexutil.Uint64(block),   // block tag
	)
	return &p, err
}

// FetchProofPair fetches the S and C storage proofs for the same slot at the
// two blocks surrounding the modification.
func FetchProofPair(
	ctx context.Context,
	cli *ethclient.Client,
	contract common.Address,
	slotKey common.Hash,
	blockS, blockC uint64,
) (*Proof, *Proof, error) {

	s, err := FetchProof(ctx, cli, contract, slotKey, blockS)
	if err != nil {
		return nil, nil, err
	}
	c, err := FetchProof(ctx, cli, contract, slotKey, blockC)
	if err != nil {
		return nil, nil, err
	}
	return s, c, nil
}

// FetchStorageRoot returns the contract's storage trie root at the given
// block, read from the account's storageHash.
func FetchStorageRoot(
	ctx context.Context,
	cli *ethclient.Client,
	contract common.Address,
	block uint64,
) (common.Hash, error) {

	p, err := FetchProof(ctx, cli, contract, common.Hash{}, block)
	if err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(p.StorageHash), nil
}

// FetchStateRoot returns the block's state root, anchoring the storage roots
// the instance proves against.
func FetchStateRoot(ctx context.Context, cli *ethclient.Client, block uint64) (common.Hash, error) {
	// CallContext unwraps the JSON-RPC result envelope itself.
	var hdr struct {
		StateRoot common.Hash `json:"stateRoot"`
	}
	if err := cli.Client().CallContext(ctx, &hdr, "eth_getBlockByNumber", hexutil.Uint64(block), false); err != nil {
		return common.Hash{}, err
	}
	return hdr.StateRoot, nil
}
