package keyoracle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/waterctl/waterctl/internal/protocol"
	"gopkg.in/yaml.v3"
)

// ErrNoVector is returned when a table has no entry for the requested input
var ErrNoVector = errors.New("no captured key for this input")

// Vector is one captured oracle input/output pair, as hex
type Vector struct {
	Input string `yaml:"input"`
	Key   string `yaml:"key"`
}

type tableFile struct {
	Vectors []Vector `yaml:"vectors"`
}

// Table answers from captured vectors. It is safe for concurrent use once
// built.
type Table struct {
	keys map[[4]byte][4]byte
}

// NewTable builds a table from vectors
func NewTable(vectors []Vector) (*Table, error) {
	t := &Table{keys: make(map[[4]byte][4]byte, len(vectors))}
	for i, v := range vectors {
		in, err := parseBlock(v.Input)
		if err != nil {
			return nil, fmt.Errorf("vector %d input: %w", i, err)
		}
		key, err := parseBlock(v.Key)
		if err != nil {
			return nil, fmt.Errorf("vector %d key: %w", i, err)
		}
		if prev, ok := t.keys[in]; ok && prev != key {
			return nil, fmt.Errorf("vector %d: conflicting keys for input %s", i, protocol.HexString(in[:]))
		}
		t.keys[in] = key
	}
	return t, nil
}

// LoadTable reads a YAML table file
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key table: %w", err)
	}
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse key table: %w", err)
	}
	return NewTable(f.Vectors)
}

// DeriveKey implements protocol.KeyDerivationOracle
func (t *Table) DeriveKey(_ context.Context, block [4]byte) ([4]byte, error) {
	key, ok := t.keys[block]
	if !ok {
		return [4]byte{}, fmt.Errorf("%w: %s", ErrNoVector, protocol.HexString(block[:]))
	}
	return key, nil
}

// Len returns the number of vectors
func (t *Table) Len() int {
	return len(t.keys)
}

// Vectors returns the table contents sorted by input
func (t *Table) Vectors() []Vector {
	out := make([]Vector, 0, len(t.keys))
	for in, key := range t.keys {
		out = append(out, Vector{Input: protocol.HexString(in[:]), Key: protocol.HexString(key[:])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Input < out[j].Input })
	return out
}

// Save writes the table as YAML
func (t *Table) Save(path string) error {
	data, err := yaml.Marshal(tableFile{Vectors: t.Vectors()})
	if err != nil {
		return fmt.Errorf("failed to marshal key table: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key table: %w", err)
	}
	return nil
}

func parseBlock(s string) ([4]byte, error) {
	var block [4]byte
	b, err := protocol.ParseHex(s)
	if err != nil {
		return block, err
	}
	if len(b) != 4 {
		return block, fmt.Errorf("want 4 bytes, got %d", len(b))
	}
	copy(block[:], b)
	return block, nil
}
