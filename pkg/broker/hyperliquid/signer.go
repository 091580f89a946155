package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	mathhex "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vmihailenco/msgpack/v5"
)

// Signer signs 32-byte action digests for the exchange endpoint.
type Signer interface {
	Sign(digest []byte) (*Signature, error)
	Address() string
}

// PrivateKeySigner signs with a raw ECDSA key, either the account key or
// an agent wallet key acting on the account's behalf.
type PrivateKeySigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewPrivateKeySigner parses a hex private key, with or without 0x prefix.
func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, errors.New("hyperliquid: empty private key")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: decode private key: %w", err)
	}
	return &PrivateKeySigner{
		key:     key,
		address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}, nil
}

// Sign produces the R/S/V signature the exchange expects (V offset by 27).
func (s *PrivateKeySigner) Sign(digest []byte) (*Signature, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("hyperliquid: signer not initialised")
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("hyperliquid: expected 32-byte digest, got %d bytes", len(digest))
	}
	raw, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: sign digest: %w", err)
	}
	return &Signature{
		R: "0x" + hex.EncodeToString(raw[:32]),
		S: "0x" + hex.EncodeToString(raw[32:64]),
		V: int(raw[64]) + 27,
	}, nil
}

// Address returns the signing wallet address, lower-cased.
func (s *PrivateKeySigner) Address() string {
	if s == nil {
		return ""
	}
	return s.address
}

// signAction wraps an action in the signed request envelope.
func signAction(action Action, signer Signer, nonce int64, vaultAddress string, isMainnet bool) (*ExchangeRequest, error) {
	if signer == nil {
		return nil, errors.New("hyperliquid: signer required")
	}
	if nonce <= 0 {
		nonce = time.Now().UnixMilli()
	}
	digest, err := actionDigest(action, nonce, vaultAddress, isMainnet)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, err
	}
	return &ExchangeRequest{
		Action:       action,
		Nonce:        nonce,
		Signature:    *sig,
		VaultAddress: vaultAddress,
	}, nil
}

const verifyingContractHex = "0x0000000000000000000000000000000000000000"

// actionDigest computes the EIP-712 hash the venue verifies: the action is
// msgpack-encoded, concatenated with the vault address bytes and the
// big-endian nonce, keccak-hashed into a connectionId, then hashed again as
// the Agent primary type under the Exchange domain. Chain id and source
// byte differ between mainnet (1337/"a") and testnet (1338/"b").
func actionDigest(action Action, nonce int64, vaultAddress string, isMainnet bool) ([]byte, error) {
	if nonce <= 0 {
		return nil, errors.New("hyperliquid: nonce must be positive")
	}
	packed, err := msgpack.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: msgpack encode action: %w", err)
	}

	vaultBytes := make([]byte, common.AddressLength)
	if vaultAddress != "" {
		if !common.IsHexAddress(vaultAddress) {
			return nil, fmt.Errorf("hyperliquid: invalid vault address %q", vaultAddress)
		}
		copy(vaultBytes, common.HexToAddress(vaultAddress).Bytes())
	}

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))

	payload := make([]byte, 0, len(packed)+len(vaultBytes)+len(nonceBytes))
	payload = append(payload, packed...)
	payload = append(payload, vaultBytes...)
	payload = append(payload, nonceBytes[:]...)
	connectionID := crypto.Keccak256(payload)

	source, chainID := "a", int64(1337)
	if !isMainnet {
		source, chainID = "b", 1338
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           mathhex.NewHexOrDecimal256(chainID),
			VerifyingContract: verifyingContractHex,
		},
		Message: map[string]interface{}{
			"source":       source,
			"connectionId": connectionID,
		},
	}
	return typedDataHash(typedData)
}

func typedDataHash(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: hash primary type: %w", err)
	}
	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}
