// Copyright 2025 The CAAPF Authors
// SPDX-License-Identifier: Apache-2.0

// Package hash computes short, stable hashes of arbitrary values.
package hash

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"k8s.io/apimachinery/pkg/util/dump"
	"k8s.io/apimachinery/pkg/util/rand"
)

// ComputeHash hashes the dump.ForHash representation of obj with FNV-32a,
// mixing in collisionCount when it is set and non-negative. The result is
// encoded with rand.SafeEncodeString so it can be used in object names.
func ComputeHash(obj any, collisionCount *int32) string {
	hasher := fnv.New32a()
	hasher.Write([]byte(dump.ForHash(obj)))

	if collisionCount != nil && *collisionCount >= 0 {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf, uint32(*collisionCount))
		hasher.Write(buf)
	}

	return rand.SafeEncodeString(fmt.Sprint(hasher.Sum32()))
}

// Equal reports whether a and b hash the same.
func Equal(a, b any) bool {
	return ComputeHash(a, nil) == ComputeHash(b, nil)
}
