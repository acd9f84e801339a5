package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
)

// fakeDB emulates the few statements the registry issues.
type fakeDB struct {
	mu      sync.Mutex
	rows    map[string]model.SensorIdentity
	failAll error
	execs   []string
}

func newFakeDB() *fakeDB { return &fakeDB{rows: map[string]model.SensorIdentity{}} }

func rowKey(owner, device string) string { return owner + "/" + device }

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return pgconn.CommandTag{}, f.failAll
	}
	stmt := strings.Fields(sql)[0]
	f.execs = append(f.execs, stmt)
	switch stmt {
	case "CREATE":
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	case "INSERT":
		k := rowKey(args[1].(string), args[0].(string))
		for _, r := range f.rows {
			if r.ConnectionToken == args[3].(string) {
				return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
			}
		}
		if _, ok := f.rows[k]; ok {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		}
		f.rows[k] = model.SensorIdentity{
			DeviceID:          args[0].(string),
			OwnerID:           args[1].(string),
			InstallationTopic: args[2].(string),
			ConnectionToken:   args[3].(string),
			CreatedAt:         args[4].(time.Time),
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case "UPDATE":
		k := rowKey(args[1].(string), args[0].(string))
		r, ok := f.rows[k]
		if !ok {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		at := args[2].(time.Time)
		r.LastDataReceivedAt = &at
		f.rows[k] = r
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case "DELETE":
		k := rowKey(args[1].(string), args[0].(string))
		if _, ok := f.rows[k]; !ok {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(f.rows, k)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement " + stmt)
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return fakeRow{err: f.failAll}
	}
	r, ok := f.rows[rowKey(args[1].(string), args[0].(string))]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{s: r}
}

type fakeRow struct {
	s   model.SensorIdentity
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.s.DeviceID
	*dest[1].(*string) = r.s.OwnerID
	*dest[2].(*string) = r.s.InstallationTopic
	*dest[3].(*string) = r.s.ConnectionToken
	*dest[4].(**time.Time) = r.s.LastDataReceivedAt
	*dest[5].(*time.Time) = r.s.CreatedAt
	return nil
}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttl[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}
