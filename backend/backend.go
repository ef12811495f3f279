/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package backend is the key value store the engine keeps its checkpoints in. The backend sink
// writes committed records to it as well.
package backend

import (
	"time"
)

type Builder func(name string) (Backend, error)

type Backend interface {
	Name() string
	// Set stores value under key. A positive expiry removes the record once it elapses.
	Set(key []byte, value []byte, expiry time.Duration) error
	// Get returns nil without an error when key does not exist.
	Get(key []byte) ([]byte, error)
	Iterator() Iterator
	Delete(key []byte) error
	String() string
	Persistent() bool
	Close() error
}
