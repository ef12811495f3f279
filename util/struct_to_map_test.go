package util

import (
	"reflect"
	"testing"
	"time"
)

type testInner struct {
	Size int32
}

type testNamed struct{}

func (testNamed) Name() string { return `named` }

type testConf struct {
	Topic    string
	Interval time.Duration
	Inner    *testInner
	Missing  *testInner
	Named    testNamed
	Brokers  []string
	Enabled  bool
	hidden   string
}

func TestStrToMap(t *testing.T) {
	rows := StrToMap(`engine`, &testConf{
		Topic:    `events`,
		Interval: 2 * time.Second,
		Inner:    &testInner{Size: 10},
		Brokers:  []string{`a`, `b`},
		Enabled:  true,
		hidden:   `x`,
	})

	expected := [][]string{
		{`engine.Brokers`, `[a b]`},
		{`engine.Enabled`, `true`},
		{`engine.Inner.Size`, `10`},
		{`engine.Interval`, `2s`},
		{`engine.Missing`, `<nil>`},
		{`engine.Named`, `named`},
		{`engine.Topic`, `events`},
	}

	if !reflect.DeepEqual(rows, expected) {
		t.Errorf(`unexpected rows %v`, rows)
	}
}

func TestStrToMap_Nil(t *testing.T) {
	var c *testConf
	if rows := StrToMap(``, c); len(rows) != 0 {
		t.Errorf(`expected no rows have %v`, rows)
	}
}
