// Package random provides seed helpers for deterministic-when-needed
// random sources.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// MustSeed is NewSeed for process start-up, where a broken entropy
// source is fatal anyway.
func MustSeed() int64 {
	seed, err := NewSeed()
	if err != nil {
		panic(err)
	}
	return seed
}
