package producer

import (
	"strconv"
	"time"

	"github.com/Shopify/sarama"
	"github.com/tryfix/windowsync/data"
)

// DefaultWindowHeader is the header produced records carry the id of their commit window in.
const DefaultWindowHeader = `windowsync-window`

// windowHeaders returns the record headers with any previous key header replaced by the record's
// window id. An empty key leaves the headers untouched.
func windowHeaders(record *data.Record, key string) []*sarama.RecordHeader {
	if key == `` {
		return record.Headers
	}

	headers := make([]*sarama.RecordHeader, 0, len(record.Headers)+1)
	for _, h := range record.Headers {
		if h != nil && string(h.Key) != key {
			headers = append(headers, h)
		}
	}

	return append(headers, &sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(strconv.FormatInt(record.Window, 10)),
	})
}

func newMessage(record *data.Record, windowHeader string, now time.Time) *sarama.ProducerMessage {
	m := &sarama.ProducerMessage{
		Topic:     record.Topic,
		Key:       sarama.ByteEncoder(record.Key),
		Value:     sarama.ByteEncoder(record.Value),
		Timestamp: now,
	}

	for _, h := range windowHeaders(record, windowHeader) {
		if h != nil {
			m.Headers = append(m.Headers, *h)
		}
	}

	if !record.Timestamp.IsZero() {
		m.Timestamp = record.Timestamp
	}

	if record.Partition > 0 {
		m.Partition = record.Partition
	}

	return m
}
