// Package store provides a thin bbolt wrapper for rookboom's local payload store.
//
// The store keeps schedule payloads fetched with `fetch --store` so that
// filtering, scoring and rendering can run offline. Entries are keyed by the
// query that produced them; nothing expires on its own.
//
// Buckets:
//
//	rooms      room schedule payloads
//	attendees  attendee schedule payloads
//	grids      time-mask payloads
//	_meta      internal: schema version, created_at
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rookboom/rookboom/internal/model"
)

// Current schema version. Bump when bucket layout or key format changes.
const schemaVersion = 1

// Bucket names.
const (
	BucketRooms     = "rooms"
	BucketAttendees = "attendees"
	BucketGrids     = "grids"
)

var bucketInternal = []byte("_meta")

// AllBuckets lists every top-level bucket for stats and clear operations.
var AllBuckets = []string{BucketRooms, BucketAttendees, BucketGrids}

// Store wraps a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path.
// Parent directories are created automatically.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path of the open database.
func (s *Store) Path() string {
	return s.db.Path()
}

func (s *Store) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range append(AllBuckets, string(bucketInternal)) {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketInternal)
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(strconv.Itoa(schemaVersion))); err != nil {
				return err
			}
			if err := meta.Put([]byte("created_at"), []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─── Keys ─────────────────────────────────────────────────────────────────────

// QueryKey builds the canonical key for a payload fetched with q.
// Format: day:<ms>|tf:<timeframe>|loc:<site>[|rep:<encoded rep params>]
func QueryKey(q model.Query) string {
	tf := q.Timeframe
	if tf == "" {
		tf = model.DefaultTimeframe
	}
	key := "day:" + strconv.FormatInt(q.Day, 10) + "|tf:" + string(tf) + "|loc:" + q.Location
	if len(q.Recurrence) > 0 {
		key += "|rep:" + q.Recurrence.Encode()
	}
	return key
}

// AttendeeKey extends a query key with the attendee list.
func AttendeeKey(q model.Query, emails []string) string {
	sorted := append([]string(nil), emails...)
	sort.Strings(sorted)
	return QueryKey(q) + "|emails:" + strings.Join(sorted, ",")
}

// ─── Payloads ─────────────────────────────────────────────────────────────────

// envelope is the on-disk wrapper around every stored payload.
type envelope struct {
	Key       string          `json:"key"`
	FetchedAt time.Time       `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

// PutRooms stores a room schedule payload under key.
func (s *Store) PutRooms(key string, p *model.SchedulePayload) error {
	return s.put(BucketRooms, key, p)
}

// GetRooms retrieves a room schedule payload.
// Returns (payload, true, nil) if found, (nil, false, nil) if not.
func (s *Store) GetRooms(key string) (*model.SchedulePayload, bool, error) {
	var p model.SchedulePayload
	ok, err := s.get(BucketRooms, key, &p)
	if !ok || err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// PutAttendees stores an attendee payload under key.
func (s *Store) PutAttendees(key string, p *model.AttendeePayload) error {
	return s.put(BucketAttendees, key, p)
}

// GetAttendees retrieves an attendee payload.
func (s *Store) GetAttendees(key string) (*model.AttendeePayload, bool, error) {
	var p model.AttendeePayload
	ok, err := s.get(BucketAttendees, key, &p)
	if !ok || err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// PutGrid stores a time-mask payload under key.
func (s *Store) PutGrid(key string, p *model.TimeMaskPayload) error {
	return s.put(BucketGrids, key, p)
}

// GetGrid retrieves a time-mask payload.
func (s *Store) GetGrid(key string) (*model.TimeMaskPayload, bool, error) {
	var p model.TimeMaskPayload
	ok, err := s.get(BucketGrids, key, &p)
	if !ok || err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (s *Store) put(bucket, key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", bucket, err)
	}
	b, err := json.Marshal(envelope{Key: key, FetchedAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding %s entry: %w", bucket, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), b)
	})
}

func (s *Store) get(bucket, key string, out interface{}) (bool, error) {
	var env envelope
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &env)
	})
	if err != nil {
		return false, fmt.Errorf("reading %s/%s: %w", bucket, key, err)
	}
	if env.Payload == nil {
		return false, nil
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return false, fmt.Errorf("decoding %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// ─── Listing ──────────────────────────────────────────────────────────────────

// Entry describes one stored payload.
type Entry struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	FetchedAt time.Time `json:"fetched_at"`
	Bytes     int       `json:"bytes"`
}

// List returns the entries of one bucket, or of every bucket when bucket is
// empty, in key order.
func (s *Store) List(bucket string) ([]Entry, error) {
	names := AllBuckets
	if bucket != "" {
		if !isBucket(bucket) {
			return nil, fmt.Errorf("unknown bucket %q", bucket)
		}
		names = []string{bucket}
	}
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range names {
			err := tx.Bucket([]byte(name)).ForEach(func(k, v []byte) error {
				var env envelope
				if err := json.Unmarshal(v, &env); err != nil {
					return fmt.Errorf("decoding %s/%s: %w", name, k, err)
				}
				entries = append(entries, Entry{Bucket: name, Key: string(k), FetchedAt: env.FetchedAt, Bytes: len(v)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return entries, err
}

func isBucket(name string) bool {
	for _, b := range AllBuckets {
		if b == name {
			return true
		}
	}
	return false
}

// ─── Stats & Maintenance ──────────────────────────────────────────────────────

// BucketStats holds row count, byte size and the span of stored days for a
// single bucket. Oldest and Newest are 0 when no key carries a day.
type BucketStats struct {
	Name   string
	Count  int
	Bytes  int64
	Oldest int64
	Newest int64
}

// Stats returns row counts and approximate sizes for all buckets, in
// AllBuckets order.
func (s *Store) Stats() ([]BucketStats, error) {
	var stats []BucketStats
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range AllBuckets {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			st := BucketStats{Name: name}
			b.ForEach(func(k, v []byte) error {
				st.Count++
				st.Bytes += int64(len(k) + len(v))
				if day, ok := KeyDay(string(k)); ok {
					if st.Oldest == 0 || day < st.Oldest {
						st.Oldest = day
					}
					st.Newest = max(st.Newest, day)
				}
				return nil
			})
			stats = append(stats, st)
		}
		return nil
	})
	return stats, err
}

// KeyDay returns the day: part of a key built by QueryKey.
func KeyDay(key string) (int64, bool) {
	head, _, _ := strings.Cut(key, "|")
	v, ok := strings.CutPrefix(head, "day:")
	if !ok {
		return 0, false
	}
	day, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return day, true
}

// Prune deletes every payload whose key day lies before the given day and
// returns how many were removed. Keys without a day are kept.
func (s *Store) Prune(before int64) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range AllBuckets {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			var doomed [][]byte
			b.ForEach(func(k, _ []byte) error {
				if day, ok := KeyDay(string(k)); ok && day < before {
					doomed = append(doomed, append([]byte(nil), k...))
				}
				return nil
			})
			for _, k := range doomed {
				if err := b.Delete(k); err != nil {
					return fmt.Errorf("pruning %s/%s: %w", name, k, err)
				}
			}
			removed += len(doomed)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ClearBucket deletes all entries in the named bucket.
func (s *Store) ClearBucket(name string) error {
	if !isBucket(name) {
		return fmt.Errorf("unknown bucket %q", name)
	}
	bname := []byte(name)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bname); err != nil {
			return fmt.Errorf("clearing bucket %s: %w", name, err)
		}
		_, err := tx.CreateBucket(bname)
		return err
	})
}

// ClearAll deletes all entries from every user-facing bucket.
func (s *Store) ClearAll() error {
	for _, name := range AllBuckets {
		if err := s.ClearBucket(name); err != nil {
			return err
		}
	}
	return nil
}

// Compact rewrites the database into a fresh file and swaps it in place,
// returning the file sizes before and after. The Store stays usable.
func (s *Store) Compact() (before, after int64, err error) {
	path := s.db.Path()
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	before = info.Size()

	tmp := path + ".compact"
	_ = os.Remove(tmp)
	dst, err := bolt.Open(tmp, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return 0, 0, fmt.Errorf("opening %s: %w", tmp, err)
	}
	if err := bolt.Compact(dst, s.db, 64*1024); err != nil {
		dst.Close()
		os.Remove(tmp)
		return 0, 0, fmt.Errorf("copying data: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return 0, 0, err
	}

	if err := s.db.Close(); err != nil {
		return 0, 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, 0, fmt.Errorf("replacing %s: %w", path, err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return 0, 0, fmt.Errorf("reopening %s: %w", path, err)
	}
	s.db = db

	info, err = os.Stat(path)
	if err != nil {
		return before, 0, err
	}
	return before, info.Size(), nil
}
