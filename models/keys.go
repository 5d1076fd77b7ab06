package models

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ProvisionalPrefix marks locally fabricated record keys. Durable keys
// assigned by the record store never carry it.
const ProvisionalPrefix = "temp-"

// IsProvisional reports whether key was assigned locally before the first
// successful remote create.
func IsProvisional(key string) bool {
	return strings.HasPrefix(key, ProvisionalPrefix)
}

// KeyGenerator produces provisional record keys.
type KeyGenerator interface {
	GenerateProvisionalKey() string
}

// RandomKeys is the default generator: a millisecond timestamp keeps keys
// roughly ordered and the uuid suffix keeps them unique across processes.
type RandomKeys struct{}

func (RandomKeys) GenerateProvisionalKey() string {
	return fmt.Sprintf("%s%d-%s", ProvisionalPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// SequenceKeys yields temp-1, temp-2, ... and is meant for tests.
type SequenceKeys struct {
	n atomic.Int64
}

func (s *SequenceKeys) GenerateProvisionalKey() string {
	return fmt.Sprintf("%s%d", ProvisionalPrefix, s.n.Add(1))
}
