package data

import (
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
)

type Record struct {
	Key, Value     []byte
	Topic          string
	Partition      int32
	Offset         int64
	Timestamp      time.Time              // only set if kafka is version 0.10+, inner message timestamp
	BlockTimestamp time.Time              // only set if kafka is version 0.10+, outer (compressed) block timestamp
	Headers        []*sarama.RecordHeader // only set if kafka is version 0.11+
	UUID           uuid.UUID
	// Window is stamped by the engine with the id of the window the record arrived in
	Window int64
}

func (r *Record) String() string {
	return fmt.Sprintf(`%s_%d_%d`, r.Topic, r.Partition, r.Offset)
}

func (r *Record) RecordKey() interface{} {
	return r.Key
}

func (r *Record) RecordValue() interface{} {
	return r.Value
}

// Header returns the value of the first header named key.
func (r *Record) Header(key string) ([]byte, bool) {
	for _, h := range r.Headers {
		if h != nil && string(h.Key) == key {
			return h.Value, true
		}
	}
	return nil, false
}
