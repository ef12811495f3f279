package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/windowsync/backend"
	"github.com/tryfix/windowsync/data"
)

// Backend writes every committed record into a backend.Backend.
type Backend struct {
	store    backend.Backend
	keyValue KeyValueFunc
	expiry   time.Duration
	logger   log.Logger
}

func NewBackend(store backend.Backend, keyValue KeyValueFunc, expiry time.Duration, logger log.Logger) (*Backend, error) {
	if store == nil {
		return nil, errors.New(`windowsync.sink.Backend: store cannot be nil`)
	}

	if keyValue == nil {
		keyValue = RecordKeyValue
	}

	return &Backend{
		store:    store,
		keyValue: keyValue,
		expiry:   expiry,
		logger:   logger.NewLog(log.Prefixed(`backend-sink`)),
	}, nil
}

func (b *Backend) Commit(ctx context.Context, record *data.Record) error {
	key, value, err := b.keyValue(record)
	if err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot map record to a %s key`, b.store.Name()))
	}

	if err := b.store.Set(key, value, b.expiry); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot write %s to %s`, key, b.store.Name()))
	}

	b.logger.TraceContext(ctx, fmt.Sprintf(`%s committed as %s`, record, key))

	return nil
}

func (b *Backend) String() string {
	return fmt.Sprintf(`backend:%s`, b.store.Name())
}
