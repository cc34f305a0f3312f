package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourorg/mptzk/circuits"
	"github.com/yourorg/mptzk/pkg/rlc"
)

// publicArtifact mirrors the JSON the prover writes next to the proof.
type publicArtifact struct {
	Root1     common.Hash `json:"root1"`
	Root2     common.Hash `json:"root2"`
	Key       common.Hash `json:"key"`
	Val1      string      `json:"val1"`
	Val2      string      `json:"val2"`
	Challenge uint64      `json:"challenge"`
}

func main() {
	var proofPath, publicPath, vkPath string

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cmd := &cobra.Command{
		Use:   "verifier",
		Short: "Verify a storage-slot update proof",
		RunE: func(cmd *cobra.Command, args []string) error {
			pBytes, err := os.ReadFile(proofPath)
			if err != nil {
				return err
			}
			vBytes, err := os.ReadFile(vkPath)
			if err != nil {
				return err
			}
			jBytes, err := os.ReadFile(publicPath)
			if err != nil {
				return err
			}

			proof := groth16.NewProof(circuits.Curve())
			if _, err := proof.ReadFrom(bytes.NewReader(pBytes)); err != nil {
				return fmt.Errorf("reading proof: %w", err)
			}
			vk := groth16.NewVerifyingKey(circuits.Curve())
			if _, err := vk.ReadFrom(bytes.NewReader(vBytes)); err != nil {
				return fmt.Errorf("reading verifying key: %w", err)
			}

			var pub publicArtifact
			if err := json.Unmarshal(jBytes, &pub); err != nil {
				return fmt.Errorf("reading public inputs: %w", err)
			}
			val1, err := hex.DecodeString(pub.Val1)
			if err != nil {
				return fmt.Errorf("val1: %w", err)
			}
			val2, err := hex.DecodeString(pub.Val2)
			if err != nil {
				return fmt.Errorf("val2: %w", err)
			}

			// Fingerprints are recomputed here from the artifact bytes, so a
			// tampered sidecar fails verification rather than being trusted.
			params := rlc.NewParams(pub.Challenge, 64)
			keyFp := params.Fingerprint(pub.Key[:])
			val1Fp := params.Fingerprint(val1)
			val2Fp := params.Fingerprint(val2)

			pubAssign := &circuits.StorageUpdateCircuit{
				Root1:     new(big.Int).SetBytes(pub.Root1[:]),
				Root2:     new(big.Int).SetBytes(pub.Root2[:]),
				KeyFp:     keyFp.BigInt(new(big.Int)),
				Val1Fp:    val1Fp.BigInt(new(big.Int)),
				Val2Fp:    val2Fp.BigInt(new(big.Int)),
				Challenge: pub.Challenge,
			}
			pubWit, err := frontend.NewWitness(
				pubAssign,
				circuits.Curve().ScalarField(),
				frontend.PublicOnly(),
			)
			if err != nil {
				return err
			}

			if err := groth16.Verify(proof, vk, pubWit); err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			log.Info().
				Str("root1", pub.Root1.Hex()).
				Str("root2", pub.Root2.Hex()).
				Msg("proof verified")
			return nil
		},
	}

	cmd.Flags().StringVar(&proofPath, "proof", "", "update_proof.bin")
	cmd.Flags().StringVar(&publicPath, "public", "", "update_public.json")
	cmd.Flags().StringVar(&vkPath, "vk", "", "update_vk.bin")
	_ = cmd.MarkFlagRequired("proof")
	_ = cmd.MarkFlagRequired("public")
	_ = cmd.MarkFlagRequired("vk")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("verifier failed")
	}
}
