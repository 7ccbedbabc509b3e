package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/mailfleet/internal/metrics"
)

var (
	bucketOrders     = []byte("orders")
	bucketOrderIndex = []byte("order_index")
	bucketDomains    = []byte("domains")
	bucketInboxes    = []byte("inboxes")
	bucketEmails     = []byte("emails")
)

// Store keeps orders and their domain and inbox records in BoltDB.
//
// Domain and inbox records are keyed "<orderID>/<seq>" so an order's
// records form one contiguous key range. The emails bucket maps every
// allocated address to its inbox record ID and enforces global uniqueness.
type Store struct {
	db *bolt.DB
}

// NewStore opens or creates the database at path
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketOrders, bucketOrderIndex, bucketDomains, bucketInboxes, bucketEmails} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// SavePlan writes an order with all of its domain and inbox records in one
// transaction. If any address is already allocated nothing is written and
// ErrEmailTaken is returned. An existing order may only be overwritten while
// it is awaiting domains.
func (s *Store) SavePlan(ctx context.Context, order *Order, domains []*DomainRecord, inboxes []*InboxRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		orders := tx.Bucket(bucketOrders)
		if existing := orders.Get([]byte(order.ID)); existing != nil {
			var prev Order
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("failed to unmarshal order: %w", err)
			}
			if prev.Status != StatusAwaitingDomains {
				return fmt.Errorf("order %s: %w", order.ID, ErrOrderNotAwaiting)
			}
		}

		emails := tx.Bucket(bucketEmails)
		for _, inbox := range inboxes {
			if emails.Get([]byte(inbox.Email)) != nil {
				return fmt.Errorf("%s: %w", inbox.Email, ErrEmailTaken)
			}
			if err := emails.Put([]byte(inbox.Email), []byte(inbox.ID)); err != nil {
				return fmt.Errorf("failed to index email: %w", err)
			}
		}

		if err := putOrder(tx, order); err != nil {
			return err
		}

		domainBucket := tx.Bucket(bucketDomains)
		for _, d := range domains {
			if err := putJSON(domainBucket, recordKey(order.ID, d.Slot), d); err != nil {
				return fmt.Errorf("failed to store domain: %w", err)
			}
		}

		inboxBucket := tx.Bucket(bucketInboxes)
		for i, inbox := range inboxes {
			if err := putJSON(inboxBucket, recordKey(order.ID, i), inbox); err != nil {
				return fmt.Errorf("failed to store inbox: %w", err)
			}
		}

		return nil
	})
}

// SaveOrder creates or replaces an order without touching its records
func (s *Store) SaveOrder(ctx context.Context, order *Order) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putOrder(tx, order)
	})
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id string) (*Order, error) {
	var order *Order

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOrders).Get([]byte(id))
		if data == nil {
			return nil
		}

		var o Order
		if err := json.Unmarshal(data, &o); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		order = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}

	return order, nil
}

// ListOrders returns orders newest first
func (s *Store) ListOrders(ctx context.Context, filter ListFilter) ([]*Order, error) {
	orders := []*Order{}

	err := s.db.View(func(tx *bolt.Tx) error {
		orderBucket := tx.Bucket(bucketOrders)
		c := tx.Bucket(bucketOrderIndex).Cursor()

		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			data := orderBucket.Get(v)
			if data == nil {
				continue
			}

			var o Order
			if err := json.Unmarshal(data, &o); err != nil {
				continue
			}

			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			if filter.Tier != "" && o.Tier != filter.Tier {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			orders = append(orders, &o)
			if filter.Limit > 0 && len(orders) >= filter.Limit {
				break
			}
		}

		return nil
	})

	return orders, err
}

// ListDomains returns the domain records of an order in slot order
func (s *Store) ListDomains(ctx context.Context, orderID string) ([]*DomainRecord, error) {
	domains := []*DomainRecord{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return scanOrder(tx.Bucket(bucketDomains), orderID, func(v []byte) error {
			var d DomainRecord
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("failed to unmarshal domain: %w", err)
			}
			domains = append(domains, &d)
			return nil
		})
	})

	return domains, err
}

// ListInboxes returns the inbox records of an order in allocation order
func (s *Store) ListInboxes(ctx context.Context, orderID string) ([]*InboxRecord, error) {
	inboxes := []*InboxRecord{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return scanOrder(tx.Bucket(bucketInboxes), orderID, func(v []byte) error {
			var in InboxRecord
			if err := json.Unmarshal(v, &in); err != nil {
				return fmt.Errorf("failed to unmarshal inbox: %w", err)
			}
			inboxes = append(inboxes, &in)
			return nil
		})
	})

	return inboxes, err
}

// EmailTaken reports whether an address is already allocated
func (s *Store) EmailTaken(ctx context.Context, email string) (bool, error) {
	var taken bool
	err := s.db.View(func(tx *bolt.Tx) error {
		taken = tx.Bucket(bucketEmails).Get([]byte(email)) != nil
		return nil
	})
	return taken, err
}

// DeleteOrder removes an order, its records and its email index entries
func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		orders := tx.Bucket(bucketOrders)
		data := orders.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
		}

		var o Order
		if err := json.Unmarshal(data, &o); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}

		emails := tx.Bucket(bucketEmails)
		inboxBucket := tx.Bucket(bucketInboxes)
		if err := scanOrder(inboxBucket, id, func(v []byte) error {
			var in InboxRecord
			if err := json.Unmarshal(v, &in); err != nil {
				return fmt.Errorf("failed to unmarshal inbox: %w", err)
			}
			return emails.Delete([]byte(in.Email))
		}); err != nil {
			return err
		}

		if err := deletePrefix(inboxBucket, id); err != nil {
			return fmt.Errorf("failed to delete inboxes: %w", err)
		}
		if err := deletePrefix(tx.Bucket(bucketDomains), id); err != nil {
			return fmt.Errorf("failed to delete domains: %w", err)
		}

		if err := tx.Bucket(bucketOrderIndex).Delete(makeIndexKey(o.CreatedAt, o.ID)); err != nil {
			return fmt.Errorf("failed to remove from index: %w", err)
		}

		return orders.Delete([]byte(id))
	})
}

// Stats returns storage statistics
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Orders: make(map[OrderStatus]int)}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOrders).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var o Order
			if err := json.Unmarshal(v, &o); err != nil {
				continue
			}
			stats.Orders[o.Status]++
		}

		stats.Domains = tx.Bucket(bucketDomains).Stats().KeyN
		stats.Inboxes = tx.Bucket(bucketInboxes).Stats().KeyN
		stats.DBSize = tx.Size()
		return nil
	})

	return stats, err
}

// StoreStats adapts Stats for the metrics collector
func (s *Store) StoreStats(ctx context.Context) (*metrics.StoreStats, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &metrics.StoreStats{
		AwaitingOrders:  int64(stats.Orders[StatusAwaitingDomains]),
		FulfilledOrders: int64(stats.Orders[StatusFulfilled]),
		Inboxes:         int64(stats.Inboxes),
		Domains:         int64(stats.Domains),
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *Store) DB() *bolt.DB {
	return s.db
}

func putOrder(tx *bolt.Tx, order *Order) error {
	if err := putJSON(tx.Bucket(bucketOrders), []byte(order.ID), order); err != nil {
		return fmt.Errorf("failed to store order: %w", err)
	}
	indexKey := makeIndexKey(order.CreatedAt, order.ID)
	if err := tx.Bucket(bucketOrderIndex).Put(indexKey, []byte(order.ID)); err != nil {
		return fmt.Errorf("failed to add to order index: %w", err)
	}
	return nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func scanOrder(b *bolt.Bucket, orderID string, fn func(v []byte) error) error {
	prefix := orderPrefix(orderID)
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func deletePrefix(b *bolt.Bucket, orderID string) error {
	prefix := orderPrefix(orderID)
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func orderPrefix(orderID string) []byte {
	return []byte(orderID + "/")
}

// recordKey sorts records of one order by sequence number
func recordKey(orderID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s/%08d", orderID, seq))
}

// indexTimeFormat is fixed width so index keys sort chronologically
const indexTimeFormat = "2006-01-02T15:04:05.000000000Z"

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(indexTimeFormat) + ":" + id)
}
