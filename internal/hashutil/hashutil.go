package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

type HashFactory func() hash.Hash

var registry = map[string]HashFactory{
	"sha256": sha256.New,
}

func GetHasher(name string) (hash.Hash, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
	return factory(), nil
}

// HexSum returns the hex digest of data using the named algorithm.
func HexSum(name string, data []byte) (string, error) {
	h, err := GetHasher(name)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
