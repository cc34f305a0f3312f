package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/math/uints"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourorg/mptzk/circuits"
	"github.com/yourorg/mptzk/pkg/mpt"
	"github.com/yourorg/mptzk/pkg/rlc"
	"github.com/yourorg/mptzk/pkg/slot"
	"github.com/yourorg/mptzk/pkg/witness"
)

// PublicArtifact is the JSON sidecar next to a proof file. It carries
// everything a verifier needs to rebuild the public witness.
type PublicArtifact struct {
	Root1     common.Hash `json:"root1"`
	Root2     common.Hash `json:"root2"`
	Key       common.Hash `json:"key"`
	Val1      string      `json:"val1"` // hex, RLP item content of the pre value
	Val2      string      `json:"val2"` // hex, RLP item content of the post value
	Challenge uint64      `json:"challenge"`
}

func main() {
	var (
		rpcURL    string
		blockPre  uint64
		blockPost uint64
		contractS string
		mapKeyS   string
		slotIndex uint64
		challenge uint64
		outDir    string
	)

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	rootCmd := &cobra.Command{
		Use:   "prover",
		Short: "Prove a single storage-slot update between two trie roots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rpcURL == "" {
				_ = godotenv.Load()
				rpcURL = os.Getenv("ARCHIVE_RPC_URL")
				if rpcURL == "" {
					return fmt.Errorf("--rpc flag or ARCHIVE_RPC_URL env var is required")
				}
			}

			contract := common.HexToAddress(contractS)
			mapKey, ok := new(big.Int).SetString(mapKeyS, 0)
			if !ok {
				return fmt.Errorf("--key is not a valid integer")
			}
			slotKey := slot.Calc(mapKey, slotIndex)
			pathKey := slot.PathKey(slotKey)

			ctx := cmd.Context()
			cli, err := ethclient.DialContext(ctx, rpcURL)
			if err != nil {
				return err
			}
			defer cli.Close()

			// -----------------------------------------------------------------
			// Fetch the S/C proof pair and build the row witness
			// -----------------------------------------------------------------
			proofS, proofC, err := witness.FetchProofPair(ctx, cli, contract, slotKey, blockPre, blockPost)
			if err != nil {
				return err
			}
			root1, err := witness.FetchStorageRoot(ctx, cli, contract, blockPre)
			if err != nil {
				return err
			}
			root2, err := witness.FetchStorageRoot(ctx, cli, contract, blockPost)
			if err != nil {
				return err
			}

			stateRootPre, err := witness.FetchStateRoot(ctx, cli, blockPre)
			if err != nil {
				return err
			}
			stateRootPost, err := witness.FetchStateRoot(ctx, cli, blockPost)
			if err != nil {
				return err
			}
			log.Info().
				Str("state_root_pre", stateRootPre.Hex()).
				Str("state_root_post", stateRootPost.Hex()).
				Msg("anchoring state roots")

			nodesS, err := decodeNodes(proofS.StorageProof[0].Proof)
			if err != nil {
				return err
			}
			nodesC, err := decodeNodes(proofC.StorageProof[0].Proof)
			if err != nil {
				return err
			}
			val1, err := encodeValue(proofS.StorageProof[0].Value)
			if err != nil {
				return err
			}
			val2, err := encodeValue(proofC.StorageProof[0].Value)
			if err != nil {
				return err
			}

			pub := mpt.PublicInputs{
				Root1: root1,
				Root2: root2,
				Key:   pathKey,
				Val1:  val1,
				Val2:  val2,
			}
			params := rlc.NewParams(challenge, 1024)

			log.Info().
				Int("nodes", len(nodesS)).
				Str("slot_key", slotKey.Hex()).
				Msg("building witness rows")

			w, err := witness.BuildRows(nodesS, nodesC, pub, params, witness.Options{RequireChange: true})
			if err != nil {
				return err
			}
			if err := mpt.Check(w); err != nil {
				return err
			}
			log.Info().Int("rows", len(w.Rows)).Msg("relation system satisfied")

			// -----------------------------------------------------------------
			// Binding circuit: compile, setup (cached), prove
			// -----------------------------------------------------------------
			cs, err := frontend.Compile(
				circuits.Curve().ScalarField(),
				r1cs.NewBuilder,
				&circuits.StorageUpdateCircuit{},
			)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			pkPath := filepath.Join(outDir, "update_pk.bin")
			vkPath := filepath.Join(outDir, "update_vk.bin")

			pk := groth16.NewProvingKey(circuits.Curve())
			vk := groth16.NewVerifyingKey(circuits.Curve())

			if pkBytes, err := os.ReadFile(pkPath); err == nil {
				_, _ = pk.ReadFrom(bytes.NewReader(pkBytes))
				vkBytes, _ := os.ReadFile(vkPath)
				_, _ = vk.ReadFrom(bytes.NewReader(vkBytes))
			} else {
				pk, vk, err = groth16.Setup(cs)
				if err != nil {
					return err
				}
				var b bytes.Buffer
				_, _ = pk.WriteTo(&b)
				_ = os.WriteFile(pkPath, b.Bytes(), 0o644)
				b.Reset()
				_, _ = vk.WriteTo(&b)
				_ = os.WriteFile(vkPath, b.Bytes(), 0o644)
			}

			assignment := buildAssignment(params, pub, slotKey, challenge)
			full, err := frontend.NewWitness(assignment, circuits.Curve().ScalarField())
			if err != nil {
				return err
			}

			start := time.Now()
			proof, err := groth16.Prove(cs, pk, full)
			if err != nil {
				return err
			}

			// -----------------------------------------------------------------
			// Outputs
			// -----------------------------------------------------------------
			var buf bytes.Buffer
			_, _ = proof.WriteTo(&buf)
			if err := os.WriteFile(filepath.Join(outDir, "update_proof.bin"), buf.Bytes(), 0o644); err != nil {
				return err
			}

			artifact := PublicArtifact{
				Root1:     root1,
				Root2:     root2,
				Key:       pathKey,
				Val1:      hex.EncodeToString(val1),
				Val2:      hex.EncodeToString(val2),
				Challenge: challenge,
			}
			jsonBytes, _ := json.MarshalIndent(artifact, "", "  ")
			if err := os.WriteFile(filepath.Join(outDir, "update_public.json"), jsonBytes, 0o644); err != nil {
				return err
			}

			log.Info().Dur("took", time.Since(start)).Msg("proof written")
			return nil
		},
	}

	rootCmd.Flags().StringVar(&rpcURL, "rpc", "", "Archive RPC URL")
	rootCmd.Flags().Uint64Var(&blockPre, "block-pre", 0, "Block before the modification")
	rootCmd.Flags().Uint64Var(&blockPost, "block-post", 0, "Block after the modification")
	rootCmd.Flags().StringVar(&contractS, "contract", "", "Contract address")
	rootCmd.Flags().StringVar(&mapKeyS, "key", "0", "Mapping key (decimal or 0x hex)")
	rootCmd.Flags().Uint64Var(&slotIndex, "slot", 0, "Storage slot index of the mapping")
	rootCmd.Flags().Uint64Var(&challenge, "challenge", 0xb17c, "Fingerprint challenge for this session")
	rootCmd.Flags().StringVar(&outDir, "outdir", "./", "Output directory")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("prover failed")
	}
}

func decodeNodes(hexNodes []string) ([][]byte, error) {
	out := make([][]byte, len(hexNodes))
	for i, h := range hexNodes {
		raw, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
		if err != nil {
			return nil, fmt.Errorf("proof node %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

// encodeValue turns an eth_getProof storage value into the RLP item a
// storage leaf carries.
func encodeValue(hexVal string) ([]byte, error) {
	v, ok := new(big.Int).SetString(hexVal, 0)
	if !ok {
		return nil, fmt.Errorf("storage value %q is not an integer", hexVal)
	}
	return rlp.EncodeToBytes(v)
}

func buildAssignment(params *rlc.Params, pub mpt.PublicInputs, slotKey common.Hash, challenge uint64) *circuits.StorageUpdateCircuit {
	a := &circuits.StorageUpdateCircuit{
		Root1:     new(big.Int).SetBytes(pub.Root1[:]),
		Root2:     new(big.Int).SetBytes(pub.Root2[:]),
		Challenge: challenge,
	}

	keyFp := params.Fingerprint(pub.Key[:])
	a.KeyFp = keyFp.BigInt(new(big.Int))
	val1Fp := params.Fingerprint(pub.Val1)
	a.Val1Fp = val1Fp.BigInt(new(big.Int))
	val2Fp := params.Fingerprint(pub.Val2)
	a.Val2Fp = val2Fp.BigInt(new(big.Int))

	for i := 0; i < 32; i++ {
		a.SlotKey[i] = uints.NewU8(slotKey[i])
		a.Val1[i] = uints.NewU8(0)
		a.Val2[i] = uints.NewU8(0)
	}
	for i, v := range pub.Val1 {
		a.Val1[i] = uints.NewU8(v)
	}
	for i, v := range pub.Val2 {
		a.Val2[i] = uints.NewU8(v)
	}
	return a
}
