/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package memory

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"github.com/tryfix/windowsync/backend"
)

type memoryRecord struct {
	key       []byte
	value     []byte
	createdAt time.Time
	expiry    time.Duration
}

func (r memoryRecord) expired(now time.Time) bool {
	return r.expiry > 0 && now.Sub(r.createdAt) > r.expiry
}

type config struct {
	MetricsReporter metrics.Reporter
	Logger          log.Logger
	CleanInterval   time.Duration
}

func NewConfig() *config {
	conf := new(config)
	conf.parse()

	return conf
}

func (c *config) parse() {
	if c.Logger == nil {
		c.Logger = log.NewNoopLogger()
	}

	if c.MetricsReporter == nil {
		c.MetricsReporter = metrics.NoopReporter()
	}

	if c.CleanInterval <= 0 {
		c.CleanInterval = 100 * time.Millisecond
	}
}

type memory struct {
	name    string
	records *sync.Map
	logger  log.Logger
	closing chan struct{}
	once    *sync.Once
	metrics struct {
		readLatency   metrics.Observer
		updateLatency metrics.Observer
		deleteLatency metrics.Observer
		storageSize   metrics.Gauge
	}
}

func Builder(config *config) backend.Builder {
	return func(name string) (backend backend.Backend, err error) {
		config.parse()
		return newMemory(name, config), nil
	}
}

func NewMemoryBackend(logger log.Logger, reporter metrics.Reporter) backend.Backend {
	conf := NewConfig()
	conf.Logger = logger
	conf.MetricsReporter = reporter
	return newMemory(`memory`, conf)
}

func newMemory(name string, conf *config) *memory {
	m := &memory{
		name:    name,
		logger:  conf.Logger.NewLog(log.Prefixed(`memory-backend`)),
		records: new(sync.Map),
		closing: make(chan struct{}),
		once:    new(sync.Once),
	}

	labels := []string{`name`, `type`}
	reporter := conf.MetricsReporter
	m.metrics.readLatency = reporter.Observer(metrics.MetricConf{Path: `backend_read_latency_microseconds`, Labels: labels})
	m.metrics.updateLatency = reporter.Observer(metrics.MetricConf{Path: `backend_update_latency_microseconds`, Labels: labels})
	m.metrics.storageSize = reporter.Gauge(metrics.MetricConf{Path: `backend_storage_size`, Labels: labels})
	m.metrics.deleteLatency = reporter.Observer(metrics.MetricConf{Path: `backend_delete_latency_microseconds`, Labels: labels})

	go m.runCleaner(conf.CleanInterval)
	return m
}

func (m *memory) labels() map[string]string {
	return map[string]string{`name`: m.name, `type`: `memory`}
}

func (m *memory) runCleaner(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			records := m.snapshot()
			for _, record := range records {
				if record.expired(now) {
					if err := m.Delete(record.key); err != nil {
						m.logger.Error(err)
					}
				}
			}
			m.metrics.storageSize.Count(float64(len(records)), m.labels())
		case <-m.closing:
			return
		}
	}
}

// snapshot returns live records sorted by key.
func (m *memory) snapshot() []memoryRecord {
	records := make([]memoryRecord, 0)
	now := time.Now()

	m.records.Range(func(key, value interface{}) bool {
		if r := value.(memoryRecord); !r.expired(now) {
			records = append(records, r)
		}
		return true
	})

	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].key, records[j].key) < 0
	})

	return records
}

func (m *memory) Name() string {
	return m.name
}

func (m *memory) String() string {
	return `memory`
}

func (m *memory) Persistent() bool {
	return false
}

func (m *memory) Set(key []byte, value []byte, expiry time.Duration) error {
	defer func(begin time.Time) {
		m.metrics.updateLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	record := memoryRecord{
		key:       key,
		value:     value,
		expiry:    expiry,
		createdAt: time.Now(),
	}

	m.records.Store(string(key), record)

	return nil
}

func (m *memory) Get(key []byte) ([]byte, error) {
	defer func(begin time.Time) {
		m.metrics.readLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	record, ok := m.records.Load(string(key))
	if !ok {
		return nil, nil
	}

	// the cleaner may not have run yet
	if record.(memoryRecord).expired(time.Now()) {
		return nil, nil
	}

	return record.(memoryRecord).value, nil
}

func (m *memory) Iterator() backend.Iterator {
	records := m.snapshot()
	return &Iterator{
		records: records,
		valid:   len(records) > 0,
	}
}

func (m *memory) Delete(key []byte) error {
	defer func(begin time.Time) {
		m.metrics.deleteLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels())
	}(time.Now())

	m.records.Delete(string(key))

	return nil
}

// Close stops the expiry cleaner. Records stay readable.
func (m *memory) Close() error {
	m.once.Do(func() {
		close(m.closing)
	})
	return nil
}

// Iterator walks a sorted snapshot taken when it was created.
type Iterator struct {
	records    []memoryRecord
	currentKey int
	valid      bool
}

func (i *Iterator) SeekToFirst() {
	i.currentKey = 0
	i.valid = len(i.records) > 0
}

func (i *Iterator) SeekToLast() {
	i.currentKey = len(i.records) - 1
	i.valid = len(i.records) > 0
}

// Seek moves to the first record with a key greater than or equal to key.
func (i *Iterator) Seek(key []byte) {
	i.currentKey = sort.Search(len(i.records), func(idx int) bool {
		return bytes.Compare(i.records[idx].key, key) >= 0
	})
	i.valid = i.currentKey < len(i.records)
}

func (i *Iterator) Next() {
	i.currentKey++
	i.valid = i.currentKey >= 0 && i.currentKey < len(i.records)
}

func (i *Iterator) Prev() {
	i.currentKey--
	i.valid = i.currentKey >= 0 && i.currentKey < len(i.records)
}

func (i *Iterator) Close() {
	i.records = nil
	i.valid = false
}

func (i *Iterator) Key() []byte {
	return i.records[i.currentKey].key
}

func (i *Iterator) Value() []byte {
	return i.records[i.currentKey].value
}

func (i *Iterator) Valid() bool {
	return i.valid
}

func (i *Iterator) Error() error {
	return nil
}
