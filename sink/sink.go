// Package sink holds committers that write committed records to external systems.
package sink

import (
	"fmt"
	"strconv"

	"github.com/tryfix/errors"
	"github.com/tryfix/windowsync/data"
	"github.com/tryfix/windowsync/producer"
	"go.uber.org/atomic"
)

// WindowHeader carries the id of the window a record was committed in.
const WindowHeader = producer.DefaultWindowHeader

// KeyValueFunc maps a committed record to the key and value written to the sink.
type KeyValueFunc func(record *data.Record) (key []byte, value []byte, err error)

// RecordKeyValue writes the record key and value unchanged.
func RecordKeyValue(record *data.Record) ([]byte, []byte, error) {
	if len(record.Key) < 1 {
		return nil, nil, errors.New(fmt.Sprintf(`record %s has no key`, record))
	}

	return record.Key, record.Value, nil
}

// SequenceKeyValue ignores the record and writes prefix<n> with a constant value, n counting
// committed records from zero. Useful to measure sink throughput.
func SequenceKeyValue(prefix string, value []byte) KeyValueFunc {
	n := atomic.NewInt64(-1)
	return func(*data.Record) ([]byte, []byte, error) {
		return []byte(prefix + strconv.FormatInt(n.Inc(), 10)), value, nil
	}
}
