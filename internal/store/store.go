// Package store defines the durable archive of motion events and the user
// table. Backends register themselves by URL scheme, like database/sql
// drivers.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint, such as the username,
// would be violated.
var ErrConflict = errors.New("already exists")

// Store defines the persistence interface for motion events and users.
type Store interface {
	// Events
	RecordEvent(ctx context.Context, ev *model.MotionEvent) error
	ListEvents(ctx context.Context, limit int) ([]*model.MotionEvent, error) // newest limit events, oldest first; limit <= 0 = all
	GetEvent(ctx context.Context, id int64) (*model.MotionEvent, error)
	PruneEvents(ctx context.Context, before time.Time) (int, []string, error) // returns the pruned count and their snapshot keys

	// Users
	GetUser(ctx context.Context, username string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User) error
	UpdateUser(ctx context.Context, u *model.User) error

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}

// Opener opens a store from a database URL.
type Opener func(ctx context.Context, databaseURL string) (Store, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[string]Opener)
)

// Register makes a backend available for the given URL schemes. It panics
// if a scheme is registered twice.
func Register(opener Opener, schemes ...string) {
	openersMu.Lock()
	defer openersMu.Unlock()
	for _, s := range schemes {
		if _, dup := openers[s]; dup {
			panic("store: Register called twice for scheme " + s)
		}
		openers[s] = opener
	}
}

// Open dispatches on the URL scheme. A URL without a scheme is treated as a
// sqlite file path.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	scheme := "sqlite"
	if i := strings.Index(databaseURL, "://"); i > 0 {
		scheme = databaseURL[:i]
	}

	openersMu.RLock()
	opener, ok := openers[scheme]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported database scheme %q (registered: %s)", scheme, strings.Join(Schemes(), ", "))
	}
	return opener(ctx, databaseURL)
}

// Schemes returns the registered URL schemes, sorted.
func Schemes() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	out := make([]string, 0, len(openers))
	for s := range openers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
