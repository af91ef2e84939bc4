package sqlite

import (
	"context"
	"time"
)

// Lease is a named, expiring lock row. Any process sharing the database file
// sees the same lease, so it keeps batches exclusive across instances.
type Lease struct {
	store  *Store
	name   string
	holder string
	ttl    time.Duration
}

func (s *Store) NewLease(name, holder string, ttl time.Duration) *Lease {
	return &Lease{store: s, name: name, holder: holder, ttl: ttl}
}

// TryAcquire takes the lease if it is free or expired. It is not reentrant:
// a second call by the same holder reports false until Release.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	now := l.store.now()
	res, err := l.store.db.ExecContext(ctx,
		`INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		 WHERE leases.expires_at < ?`,
		l.name, l.holder, now.Add(l.ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return false, storageErr("acquire lease", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("acquire lease", err)
	}
	return n == 1, nil
}

func (l *Lease) Release(ctx context.Context) error {
	_, err := l.store.db.ExecContext(ctx,
		`DELETE FROM leases WHERE name = ? AND holder = ?`, l.name, l.holder)
	return storageErr("release lease", err)
}
