package offsets

import (
	"testing"

	"github.com/Shopify/sarama"
	"github.com/tryfix/log"
	"github.com/tryfix/windowsync/admin"
	"github.com/tryfix/windowsync/data"
)

func TestOffsetValid(t *testing.T) {
	tests := []struct {
		offset, start, end int64
		valid              bool
	}{
		{offset: 0, start: 0, end: 10, valid: true},
		{offset: 10, start: 0, end: 10, valid: true},
		{offset: 11, start: 0, end: 10, valid: false},
		{offset: 2, start: 5, end: 10, valid: false},
	}

	for _, test := range tests {
		if offsetValid(test.offset, test.start, test.end) != test.valid {
			t.Errorf(`offset %d in [%d, %d] expected valid=%v`, test.offset, test.start, test.end, test.valid)
		}
	}
}

func TestMockManager(t *testing.T) {
	kafkaAdmin := admin.NewMockAdmin(admin.NewMockTopics())
	if err := kafkaAdmin.CreateTopics(map[string]*admin.Topic{`tp`: {Name: `tp`, NumPartitions: 1}}); err != nil {
		t.Fatal(err)
	}

	tp, _ := kafkaAdmin.Topics.Topic(`tp`)
	pt, _ := tp.Partition(0)
	for i := 0; i < 5; i++ {
		if err := pt.Append(&data.Record{Topic: `tp`}); err != nil {
			t.Fatal(err)
		}
	}

	m := &MockManager{Topics: kafkaAdmin.Topics}
	latest, err := m.GetOffsetLatest(`tp`, 0)
	if err != nil || latest != 5 {
		t.Errorf(`expected latest 5 have %d (%v)`, latest, err)
	}

	if valid, _ := m.OffsetValid(`tp`, 0, 6); valid {
		t.Error(`offset 6 should be invalid`)
	}

	m.Truncate(`tp`, 0, 3)
	if oldest, _ := m.GetOffsetOldest(`tp`, 0); oldest != 3 {
		t.Errorf(`expected oldest 3 have %d`, oldest)
	}

	if valid, _ := m.OffsetValid(`tp`, 0, 2); valid {
		t.Error(`offset 2 is truncated`)
	}

	// truncating past the end keeps the partition readable from its end
	m.Truncate(`tp`, 0, 50)
	if oldest, _ := m.GetOffsetOldest(`tp`, 0); oldest != 5 {
		t.Errorf(`expected oldest 5 have %d`, oldest)
	}
}

func TestManager_GetOffsets(t *testing.T) {
	seedBroker := sarama.NewMockBroker(t, 1)
	defer seedBroker.Close()

	seedBroker.SetHandlerByMap(map[string]sarama.MockResponse{
		"MetadataRequest": sarama.NewMockMetadataResponse(t).
			SetBroker(seedBroker.Addr(), seedBroker.BrokerID()).
			SetLeader("tp", 0, seedBroker.BrokerID()),
		"OffsetRequest": sarama.NewMockOffsetResponse(t).
			SetVersion(1).
			SetOffset("tp", 0, sarama.OffsetOldest, 3).
			SetOffset("tp", 0, sarama.OffsetNewest, 42),
	})

	config := sarama.NewConfig()
	config.Version = sarama.V1_0_0_0
	m, err := NewManager(&Config{
		Config:           config,
		BootstrapServers: []string{seedBroker.Addr()},
		Logger:           log.NewNoopLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	valid, err := m.OffsetValid(`tp`, 0, 10)
	if err != nil {
		t.Fatal(err)
	}

	if !valid {
		t.Error(`offset 10 should be within [3, 42]`)
	}

	if valid, _ := m.OffsetValid(`tp`, 0, 1); valid {
		t.Error(`offset 1 is older than the oldest offset`)
	}
}
