package consumer

import (
	"fmt"
	"testing"

	"github.com/tryfix/windowsync/admin"
	"github.com/tryfix/windowsync/data"
	"github.com/tryfix/windowsync/offsets"
)

func countUntilEnd(t *testing.T, ch <-chan Event) int {
	t.Helper()
	var count int
	for msg := range ch {
		if _, ok := msg.(*PartitionEnd); ok {
			return count
		}
		count++
	}
	t.Fatal(`events closed before partition end`)
	return count
}

func TestMockPartitionConsumer_Consume(t *testing.T) {
	mocksTopics := admin.NewMockTopics()
	kafkaAdmin := admin.NewMockAdmin(mocksTopics)
	if err := kafkaAdmin.CreateTopics(map[string]*admin.Topic{
		`tp1`: {
			Name:              "tp1",
			NumPartitions:     1,
			ReplicationFactor: 1,
		},
	}); err != nil {
		t.Fatal(err)
	}
	tp, _ := mocksTopics.Topic(`tp1`)
	pt, _ := tp.Partition(0)

	t.Run(`ZeroMessage`, func(t *testing.T) {
		con := NewMockPartitionConsumer(mocksTopics, &offsets.MockManager{Topics: mocksTopics})
		defer con.Close()
		ch, err := con.Consume(`tp1`, 0, Earliest)
		if err != nil {
			t.Fatal(err)
		}

		if count := countUntilEnd(t, ch); count != 0 {
			t.Error(`expected 0 have `, count)
		}
	})

	for i := 1; i <= 3333; i++ {
		err := pt.Append(&data.Record{
			Key:   []byte(fmt.Sprint(i)),
			Value: []byte(`v`),
			Topic: "tp1",
		})
		if err != nil {
			t.Error(err)
		}
	}

	t.Run(`Earliest`, func(t *testing.T) {
		con := NewMockPartitionConsumer(mocksTopics, &offsets.MockManager{Topics: mocksTopics})
		defer con.Close()
		ch, err := con.Consume(`tp1`, 0, Earliest)
		if err != nil {
			t.Fatal(err)
		}

		if count := countUntilEnd(t, ch); count != 3333 {
			t.Error(`expected 3333 have `, count)
		}
	})

	t.Run(`Latest`, func(t *testing.T) {
		con := NewMockPartitionConsumer(mocksTopics, &offsets.MockManager{Topics: mocksTopics})
		defer con.Close()
		ch, err := con.Consume(`tp1`, 0, Latest)
		if err != nil {
			t.Fatal(err)
		}

		if count := countUntilEnd(t, ch); count != 0 {
			t.Error(`expected 0 have `, count)
		}
	})

	t.Run(`FromOffset`, func(t *testing.T) {
		con := NewMockPartitionConsumer(mocksTopics, &offsets.MockManager{Topics: mocksTopics})
		defer con.Close()
		ch, err := con.Consume(`tp1`, 0, Offset(3000))
		if err != nil {
			t.Fatal(err)
		}

		first := <-ch
		if rec, ok := first.(*data.Record); !ok || rec.Offset != 3000 {
			t.Fatalf(`expected record at offset 3000 have %v`, first)
		}

		if count := countUntilEnd(t, ch); count != 332 {
			t.Error(`expected 332 have `, count)
		}
	})

	t.Run(`UnknownTopic`, func(t *testing.T) {
		con := NewMockPartitionConsumer(mocksTopics, &offsets.MockManager{Topics: mocksTopics})
		defer con.Close()
		if _, err := con.Consume(`unknown`, 0, Earliest); err == nil {
			t.Error(`expected error for unknown topic`)
		}
	})
}

func TestMockPartitionConsumer_CloseUnblocks(t *testing.T) {
	mocksTopics := admin.NewMockTopics()
	if err := admin.NewMockAdmin(mocksTopics).CreateTopics(map[string]*admin.Topic{
		`tp2`: {Name: `tp2`, NumPartitions: 1, ReplicationFactor: 1},
	}); err != nil {
		t.Fatal(err)
	}
	tp, _ := mocksTopics.Topic(`tp2`)
	pt, _ := tp.Partition(0)
	for i := 0; i < 500; i++ {
		if err := pt.Append(&data.Record{Topic: `tp2`, Value: []byte(`v`)}); err != nil {
			t.Fatal(err)
		}
	}

	con := NewMockPartitionConsumer(mocksTopics, &offsets.MockManager{Topics: mocksTopics})
	if _, err := con.Consume(`tp2`, 0, Earliest); err != nil {
		t.Fatal(err)
	}

	// the event buffer fills up since nothing reads it
	if err := con.Close(); err != nil {
		t.Error(err)
	}
}

func TestConfig_Validate(t *testing.T) {
	c := NewConsumerConfig()
	if err := c.validate(); err == nil {
		t.Error(`expected error for missing id`)
	}

	c.Id = `test`
	if err := c.validate(); err == nil {
		t.Error(`expected error for missing bootstrap servers`)
	}

	c.BootstrapServers = []string{`localhost:9092`}
	if err := c.validate(); err != nil {
		t.Error(err)
	}

	c.OutOfRange = Offset(5)
	if err := c.validate(); err == nil {
		t.Error(`expected error for a concrete out of range offset`)
	}
}

func TestMockPartitionConsumer_OutOfRange(t *testing.T) {
	mocksTopics := admin.NewMockTopics()
	if err := admin.NewMockAdmin(mocksTopics).CreateTopics(map[string]*admin.Topic{
		`tp3`: {Name: `tp3`, NumPartitions: 1, ReplicationFactor: 1},
	}); err != nil {
		t.Fatal(err)
	}
	tp, _ := mocksTopics.Topic(`tp3`)
	pt, _ := tp.Partition(0)
	for i := 0; i < 10; i++ {
		if err := pt.Append(&data.Record{Topic: `tp3`, Key: []byte(fmt.Sprint(i))}); err != nil {
			t.Fatal(err)
		}
	}

	manager := &offsets.MockManager{Topics: mocksTopics}
	manager.Truncate(`tp3`, 0, 5)

	t.Run(`Earliest`, func(t *testing.T) {
		con := NewMockPartitionConsumer(mocksTopics, manager)
		defer con.Close()
		ch, err := con.Consume(`tp3`, 0, Offset(2))
		if err != nil {
			t.Fatal(err)
		}

		first := <-ch
		if r, ok := first.(*data.Record); !ok || r.Offset != 5 {
			t.Errorf(`expected to resume from the oldest retained offset 5 have %v`, first)
		}
	})

	t.Run(`Latest`, func(t *testing.T) {
		con := NewMockPartitionConsumer(mocksTopics, manager)
		con.outOfRange = Latest
		defer con.Close()
		ch, err := con.Consume(`tp3`, 0, Offset(2))
		if err != nil {
			t.Fatal(err)
		}

		if count := countUntilEnd(t, ch); count != 0 {
			t.Errorf(`expected no records before partition end have %d`, count)
		}
	})
}

func TestOffset_String(t *testing.T) {
	if Earliest.String() != `Earliest` || Latest.String() != `Latest` || Offset(10).String() != `10` {
		t.Error(`unexpected offset names`)
	}
}
