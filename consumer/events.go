/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package consumer

import "fmt"

// Event is either a *data.Record or a *PartitionEnd.
type Event interface {
	String() string
}

// PartitionEnd is emitted every time the consumer catches up with the partition high watermark.
type PartitionEnd struct {
	tps []TopicPartition
}

func (p *PartitionEnd) String() string {
	return fmt.Sprintf(`%v`, p.tps)
}

func (p *PartitionEnd) TopicPartitions() []TopicPartition {
	return p.tps
}

type Error struct {
	err error
}

func (p *Error) String() string {
	return fmt.Sprint(`consumer error `, p.err)
}

func (p *Error) Error() string {
	return fmt.Sprint(`consumer error `, p.err)
}

func (p *Error) Unwrap() error {
	return p.err
}
