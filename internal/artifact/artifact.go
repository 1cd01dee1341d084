// Package artifact loads compiled contract artifacts (ABI + creation bytecode).
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNotFound is returned when a source has no artifact with the requested name.
var ErrNotFound = errors.New("artifact: not found")

// Source resolves a contract name to its compiled artifact.
type Source interface {
	Load(ctx context.Context, name string) (*ContractArtifact, error)
}

// ContractArtifact represents a compiled Solidity contract with ABI and bytecode.
// Both the Hardhat and the Foundry output layouts decode into it.
type ContractArtifact struct {
	ABI              json.RawMessage `json:"abi"`
	Bytecode         Bytecode        `json:"bytecode"`
	DeployedBytecode Bytecode        `json:"deployedBytecode,omitempty"`
	ContractName     string          `json:"contractName,omitempty"`
	SourceName       string          `json:"sourceName,omitempty"`
}

// Bytecode contains the contract bytecode.
// It handles both formats:
// - Simple string: "0x608060..." (Hardhat)
// - Object with "object" field: {"object": "0x608060..."} (Foundry)
type Bytecode struct {
	hex string
}

// NewBytecode wraps a hex string.
func NewBytecode(hex string) Bytecode {
	return Bytecode{hex: hex}
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// MarshalJSON marshals the bytecode as a string.
func (b Bytecode) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.hex)
}

// String returns the bytecode hex string.
func (b Bytecode) String() string {
	return b.hex
}

// Bytes decodes the bytecode. Empty bytecode (interfaces, abstract
// contracts) and bytecode with unresolved library placeholders are errors.
func (b Bytecode) Bytes() ([]byte, error) {
	s := strings.TrimPrefix(b.hex, "0x")
	if s == "" {
		return nil, fmt.Errorf("empty bytecode")
	}
	if strings.Contains(s, "__") {
		return nil, fmt.Errorf("bytecode has unlinked library references")
	}
	code, err := hexutil.Decode("0x" + s)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	return code, nil
}

// ParseABI returns the parsed ABI.
func (a *ContractArtifact) ParseABI() (abi.ABI, error) {
	if len(a.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("artifact %s has no ABI", a.ContractName)
	}
	return abi.JSON(bytes.NewReader(a.ABI))
}

// CreationBytecode returns the creation bytecode as bytes.
func (a *ContractArtifact) CreationBytecode() ([]byte, error) {
	return a.Bytecode.Bytes()
}

// decode parses raw artifact JSON, filling ContractName from name when the
// compiler output omits it (Foundry).
func decode(name string, data []byte) (*ContractArtifact, error) {
	var a ContractArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", name, err)
	}
	if a.ContractName == "" {
		a.ContractName = name
	}
	return &a, nil
}
