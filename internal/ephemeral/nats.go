package ephemeral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"datec-go/internal/datec"
	"datec-go/internal/retry"
)

// DefaultBucket is the KV bucket used when none is configured.
const DefaultBucket = "datec"

// wrongLastSequence is the JetStream error code for a failed revision check.
const wrongLastSequence = 10071

// errConflict marks a lost compare-and-set so the retry loop tries again.
var errConflict = errors.New("kv: concurrent update")

// NATSStore keeps counters and lists in a JetStream KV bucket. Integers are
// decimal strings; lists are JSON arrays. Every read-modify-write is a
// revision-checked update retried on conflict.
type NATSStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	cas    retry.Config
	logger datec.Logger
}

// ConnectNATS connects to url and opens bucket, creating it if needed.
func ConnectNATS(ctx context.Context, url, bucket string, logger datec.Logger) (*NATSStore, error) {
	if logger == nil {
		logger = datec.NewNopLogger()
	}
	if bucket == "" {
		bucket = DefaultBucket
	}

	nc, err := nats.Connect(url, nats.Name("datec"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}
	kv, err := openBucket(ctx, js, bucket, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSStore{
		nc:     nc,
		kv:     kv,
		cas:    retry.Config{MaxAttempts: 10, InitialDelay: 5 * time.Millisecond, MaxDelay: 200 * time.Millisecond, AddJitter: true},
		logger: logger,
	}, nil
}

// openBucket returns the existing bucket or creates it, tolerating a
// concurrent creator.
func openBucket(ctx context.Context, js jetstream.JetStream, name string, logger datec.Logger) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("opening kv bucket %s: %w", name, err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: name, History: 1})
	if errors.Is(err, jetstream.ErrBucketExists) {
		kv, err = js.KeyValue(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("creating kv bucket %s: %w", name, err)
	}
	logger.Info("created kv bucket", "bucket", name)
	return kv, nil
}

// kvKey maps a store key onto the KV key alphabet. ':' becomes '.', and
// anything else outside [-_/.a-zA-Z0-9] is hex-escaped behind '='.
func kvKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == ':':
			b.WriteByte('.')
		case c == '-' || c == '_' || c == '/' || c == '.',
			'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == wrongLastSequence
}

// get returns the current value and revision. A missing key has revision 0.
func (s *NATSStore) get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), entry.Revision(), nil
}

// update applies fn to the current value of key under compare-and-set.
func (s *NATSStore) update(ctx context.Context, key string, fn func(cur []byte, found bool) ([]byte, error)) error {
	k := kvKey(key)
	attempt := 0
	err := retry.Do(ctx, s.cas, func() error {
		attempt++
		cur, rev, err := s.get(ctx, k)
		if err != nil {
			return err
		}
		next, err := fn(cur, rev != 0)
		if err != nil {
			return retry.NonRetryable(err)
		}

		if rev == 0 {
			_, err = s.kv.Create(ctx, k, next)
		} else {
			_, err = s.kv.Update(ctx, k, next, rev)
		}
		if isConflict(err) {
			s.logger.Debug("kv update conflict", "key", k, "attempt", attempt)
			return errConflict
		}
		if err != nil {
			return fmt.Errorf("kv write %s: %w", k, err)
		}
		return nil
	})
	if errors.Is(err, errConflict) {
		return fmt.Errorf("kv update %s: gave up after %d attempts: %w", k, attempt, err)
	}
	return err
}

func parseInt(v []byte) (int64, error) {
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decoding counter: %w", err)
	}
	return n, nil
}

func (s *NATSStore) GetInt(ctx context.Context, key string) (int64, bool, error) {
	v, rev, err := s.get(ctx, kvKey(key))
	if err != nil || rev == 0 {
		return 0, false, err
	}
	n, err := parseInt(v)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (s *NATSStore) SetInt(ctx context.Context, key string, value int64) error {
	if _, err := s.kv.Put(ctx, kvKey(key), []byte(strconv.FormatInt(value, 10))); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (s *NATSStore) SetIntIfAbsent(ctx context.Context, key string, value int64) (bool, error) {
	_, err := s.kv.Create(ctx, kvKey(key), []byte(strconv.FormatInt(value, 10)))
	if isConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv create %s: %w", key, err)
	}
	return true, nil
}

func (s *NATSStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.addInt(ctx, key, func(v int64) int64 { return v + delta })
}

func (s *NATSStore) DecrByClamped(ctx context.Context, key string, delta int64) (int64, error) {
	return s.addInt(ctx, key, func(v int64) int64 { return max(v-delta, 0) })
}

func (s *NATSStore) addInt(ctx context.Context, key string, apply func(int64) int64) (int64, error) {
	var result int64
	err := s.update(ctx, key, func(cur []byte, found bool) ([]byte, error) {
		var v int64
		if found {
			var err error
			if v, err = parseInt(cur); err != nil {
				return nil, err
			}
		}
		result = apply(v)
		return []byte(strconv.FormatInt(result, 10)), nil
	})
	return result, err
}

func (s *NATSStore) PushFront(ctx context.Context, key string, item []byte, maxLen int) error {
	return s.update(ctx, key, func(cur []byte, found bool) ([]byte, error) {
		list, err := decodeList(cur, found)
		if err != nil {
			return nil, err
		}
		return json.Marshal(pushFront(list, item, maxLen))
	})
}

func (s *NATSStore) Range(ctx context.Context, key string, limit int) ([][]byte, error) {
	list, err := s.list(ctx, key)
	if err != nil {
		return nil, err
	}
	return front(list, limit), nil
}

func (s *NATSStore) Len(ctx context.Context, key string) (int, error) {
	list, err := s.list(ctx, key)
	return len(list), err
}

func (s *NATSStore) list(ctx context.Context, key string) ([][]byte, error) {
	v, rev, err := s.get(ctx, kvKey(key))
	if err != nil {
		return nil, err
	}
	return decodeList(v, rev != 0)
}

func decodeList(v []byte, found bool) ([][]byte, error) {
	if !found {
		return nil, nil
	}
	var list [][]byte
	if err := json.Unmarshal(v, &list); err != nil {
		return nil, fmt.Errorf("decoding list: %w", err)
	}
	return list, nil
}

func (s *NATSStore) Delete(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		err := s.kv.Delete(ctx, kvKey(key))
		if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			errs = append(errs, fmt.Errorf("kv delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Close drains the connection so in-flight publishes complete.
func (s *NATSStore) Close() error {
	return s.nc.Drain()
}

var (
	_ datec.EphemeralStore     = (*NATSStore)(nil)
	_ datec.ClampedDecrementer = (*NATSStore)(nil)
)
