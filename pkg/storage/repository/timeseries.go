package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/marmos91/scalebridge/pkg/storage"
)

// TimeSeriesConfig tunes the Badger-backed time-series store.
type TimeSeriesConfig struct {
	// Path is the Badger directory. Empty selects an in-memory store.
	Path string `mapstructure:"path" yaml:"path"`

	// Retention drops entries older than this. Zero keeps everything.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// TimeSeries stores readings in Badger keyed by device and timestamp, so
// range scans per device come back in time order.
type TimeSeries struct {
	name   string
	cfg    TimeSeriesConfig
	health healthState

	db *badger.DB
}

var _ storage.Repository = (*TimeSeries)(nil)

// NewTimeSeries creates the time-series backend. The store is opened on
// Connect.
func NewTimeSeries(name string, cfg TimeSeriesConfig) *TimeSeries {
	return &TimeSeries{name: name, cfg: cfg}
}

func (t *TimeSeries) Name() string { return t.name }

func (t *TimeSeries) Connect(ctx context.Context) error {
	opts := badger.DefaultOptions(t.cfg.Path).WithLogger(nil)
	if t.cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		t.health.record(0, err)
		return fmt.Errorf("open time-series store: %w", err)
	}
	t.db = db
	t.health.setConnected(true)
	return nil
}

func (t *TimeSeries) Disconnect(ctx context.Context) error {
	t.health.setConnected(false)
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}

func (t *TimeSeries) TestConnectivity(ctx context.Context) error {
	if t.db == nil {
		return fmt.Errorf("time-series backend %s not connected", t.name)
	}
	start := time.Now()
	err := t.db.View(func(txn *badger.Txn) error { return nil })
	t.health.record(time.Since(start), err)
	return err
}

func (t *TimeSeries) Health(ctx context.Context) storage.Health {
	return t.health.snapshot()
}

// key layout: ts/<device>/<unix-nano>/<id>
func seriesKey(r *storage.Reading) []byte {
	return []byte(fmt.Sprintf("ts/%s/%020d/%s", r.DeviceID, r.Timestamp.UnixNano(), r.ID))
}

func (t *TimeSeries) Write(ctx context.Context, r *storage.Reading) error {
	if t.db == nil {
		return fmt.Errorf("time-series backend %s not connected", t.name)
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	start := time.Now()
	err = t.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(seriesKey(r), doc)
		if t.cfg.Retention > 0 {
			entry = entry.WithTTL(t.cfg.Retention)
		}
		return txn.SetEntry(entry)
	})
	t.health.record(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("write reading: %w", err)
	}
	return nil
}

func (t *TimeSeries) WriteBatch(ctx context.Context, rs []*storage.Reading) (int, error) {
	if t.db == nil {
		return 0, fmt.Errorf("time-series backend %s not connected", t.name)
	}
	if len(rs) == 0 {
		return 0, nil
	}

	start := time.Now()
	wb := t.db.NewWriteBatch()
	defer wb.Cancel()

	written := 0
	for _, r := range rs {
		doc, err := json.Marshal(r)
		if err != nil {
			t.health.record(time.Since(start), err)
			return written, fmt.Errorf("encode reading: %w", err)
		}
		entry := badger.NewEntry(seriesKey(r), doc)
		if t.cfg.Retention > 0 {
			entry = entry.WithTTL(t.cfg.Retention)
		}
		if err := wb.SetEntry(entry); err != nil {
			t.health.record(time.Since(start), err)
			return written, fmt.Errorf("write batch: %w", err)
		}
		written++
	}
	if err := wb.Flush(); err != nil {
		t.health.record(time.Since(start), err)
		return 0, fmt.Errorf("flush batch: %w", err)
	}
	t.health.record(time.Since(start), nil)
	return written, nil
}

// ReadRange returns a device's readings with timestamps in [from, to),
// oldest first.
func (t *TimeSeries) ReadRange(ctx context.Context, deviceID string, from, to time.Time) ([]*storage.Reading, error) {
	if t.db == nil {
		return nil, fmt.Errorf("time-series backend %s not connected", t.name)
	}
	prefix := []byte(fmt.Sprintf("ts/%s/", deviceID))
	startKey := []byte(fmt.Sprintf("ts/%s/%020d/", deviceID, from.UnixNano()))

	var out []*storage.Reading
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(startKey); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var r storage.Reading
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				if !r.Timestamp.Before(to) {
					return nil
				}
				out = append(out, &r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read range: %w", err)
	}
	return out, nil
}
