package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig holds connection settings for the JetStream-backed store.
type NATSConfig struct {
	URL         string
	Bucket      string
	EventStream string // stream name backing Append
	// SubjectPrefix is prepended to per-key subjects on the event stream.
	SubjectPrefix string
}

// NATSStore implements Store on a NATS JetStream KV bucket plus a stream for
// durable list appends.
type NATSStore struct {
	conn          *nats.Conn
	js            jetstream.JetStream
	kv            jetstream.KeyValue
	subjectPrefix string
}

// NewNATSStore connects to NATS and ensures the KV bucket and event stream exist.
func NewNATSStore(ctx context.Context, cfg NATSConfig) (*NATSStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("kv bucket name is required")
	}
	if cfg.EventStream == "" {
		cfg.EventStream = "PROMOTER_EVENTS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "promoter.events"
	}

	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s := &NATSStore{conn: conn, js: js, subjectPrefix: cfg.SubjectPrefix}

	if err := s.initKVBucket(ctx, cfg.Bucket); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize KV bucket: %w", err)
	}
	if err := s.initEventStream(ctx, cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize event stream: %w", err)
	}

	slog.Info("NATS store initialized",
		"url", cfg.URL,
		"kv_bucket", cfg.Bucket,
		"event_stream", cfg.EventStream)

	return s, nil
}

// initKVBucket creates or gets the KV bucket shared with the rest of the platform.
func (s *NATSStore) initKVBucket(ctx context.Context, bucket string) error {
	kv, err := s.js.KeyValue(ctx, bucket)
	if err == nil {
		s.kv = kv
		return nil
	}

	kv, err = s.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Shared state for the build promoter",
		History:     1, // keep only latest value per key
		// Per-key TTLs (SetWithTTL) require limit markers; server >= 2.11.
		LimitMarkerTTL: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create KV bucket: %w", err)
	}
	s.kv = kv
	slog.Info("Created KV bucket", "bucket", bucket)
	return nil
}

// initEventStream creates or updates the stream that backs Append.
func (s *NATSStore) initEventStream(ctx context.Context, cfg NATSConfig) error {
	_, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.EventStream,
		Description: "Durable per-service build event lists",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create event stream: %w", err)
	}
	return nil
}

// Get returns the value for key, or ErrNotFound.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return entry.Value(), nil
}

// Set writes value under key.
func (s *NATSStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	return nil
}

// kvCreator is the slice of jetstream.KeyValue that setWithTTL needs.
type kvCreator interface {
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Purge(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// setWithTTLRetries bounds the purge/create loop when writers race on a key.
const setWithTTLRetries = 3

// SetWithTTL writes value under key with a bounded lifetime. The TTL only
// applies to a fresh key, so an existing key is purged and re-created; a
// concurrent writer landing in between loses (last-writer-wins, per the
// Store contract). The purge emits a delete notification, which watchers of
// change-signal keys ignore.
func (s *NATSStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return setWithTTL(ctx, s.kv, key, value, ttl)
}

func setWithTTL(ctx context.Context, kv kvCreator, key string, value []byte, ttl time.Duration) error {
	for attempt := 0; ; attempt++ {
		_, err := kv.Create(ctx, key, value, jetstream.KeyTTL(ttl))
		if err == nil {
			return nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) || attempt >= setWithTTLRetries {
			return fmt.Errorf("failed to put key %s with ttl: %w", key, err)
		}
		if err := kv.Purge(ctx, key); err != nil {
			return fmt.Errorf("failed to replace key %s: %w", key, err)
		}
	}
}

// Append publishes value onto the durable event stream under a per-key subject.
func (s *NATSStore) Append(ctx context.Context, key string, value []byte) error {
	if _, err := s.js.Publish(ctx, s.subjectForKey(key), value); err != nil {
		return fmt.Errorf("failed to append to %s: %w", key, err)
	}
	return nil
}

// subjectForKey maps a store key onto a stream subject. Slashes are not valid
// in subject tokens, so they collapse to underscores.
func (s *NATSStore) subjectForKey(key string) string {
	return s.subjectPrefix + "." + strings.ReplaceAll(key, "/", "_")
}

// Watch delivers KV change notifications for keys matching pattern.
// The ">" pattern watches the whole bucket.
func (s *NATSStore) Watch(ctx context.Context, pattern string) (<-chan Update, error) {
	watcher, err := s.kv.Watch(ctx, pattern, jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", pattern, err)
	}

	updates := make(chan Update)
	go func() {
		defer close(updates)
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// initial replay marker
					continue
				}
				op := OpPut
				if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
					op = OpDelete
				}
				select {
				case updates <- Update{Key: entry.Key(), Value: entry.Value(), Op: op}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return updates, nil
}

// Close closes the NATS connection.
func (s *NATSStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
