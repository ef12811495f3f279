package offsets

import (
	"fmt"
	"sync"

	"github.com/tryfix/windowsync/admin"
)

// MockManager answers offset queries from admin.Topics. Truncate moves a partition's oldest
// retained offset forward to simulate log retention.
type MockManager struct {
	Topics *admin.Topics

	mu        sync.Mutex
	truncated map[string]int64
}

func (m *MockManager) Truncate(topic string, partition int32, oldest int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.truncated == nil {
		m.truncated = make(map[string]int64)
	}
	m.truncated[fmt.Sprintf(`%s_%d`, topic, partition)] = oldest
}

func (m *MockManager) OffsetValid(topic string, partition int32, offset int64) (bool, error) {
	oldest, err := m.GetOffsetOldest(topic, partition)
	if err != nil {
		return false, err
	}

	latest, err := m.GetOffsetLatest(topic, partition)
	if err != nil {
		return false, err
	}

	return offsetValid(offset, oldest, latest), nil
}

// GetOffsetLatest returns the offset the next appended record gets.
func (m *MockManager) GetOffsetLatest(topic string, partition int32) (int64, error) {
	tp, err := m.Topics.Topic(topic)
	if err != nil {
		return 0, err
	}

	pt, err := tp.Partition(int(partition))
	if err != nil {
		return 0, err
	}

	return pt.Latest() + 1, nil
}

func (m *MockManager) GetOffsetOldest(topic string, partition int32) (int64, error) {
	latest, err := m.GetOffsetLatest(topic, partition)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	oldest := m.truncated[fmt.Sprintf(`%s_%d`, topic, partition)]
	m.mu.Unlock()

	if oldest > latest {
		return latest, nil
	}

	return oldest, nil
}

func (m *MockManager) Close() error {
	return nil
}
