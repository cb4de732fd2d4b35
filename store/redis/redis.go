/*
Package redis provides a Redis-backed benefit.UsageStore.

PURPOSE:
  Alternative usage ledger for deployments where several API nodes share
  counters and a SQLite file is not an option. The catalog, memberships
  and claims stay in SQLite.

LAYOUT:
  usage:<pet>:<year>     hash  field "<plan>|<procedure>" -> count
  usage_at:<pet>:<year>  hash  field "<plan>|<procedure>" -> last update (RFC3339)

  One hash per pet and year keeps ListUsage to a single HGETALL.

ATOMIC INCREMENT:
  HINCRBY creates the field at 0 and adds one in a single server-side
  step. The timestamp is written in the same MULTI/EXEC.

NO RESET:
  Nothing in this package deletes or lowers a field.
*/
package redis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/warp/benefit-engine/benefit"
)

const defaultPrefix = "usage"

// Store implements benefit.UsageStore.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

// New wraps an existing client.
func New(client goredis.UniversalClient) *Store {
	return &Store{client: client, prefix: defaultPrefix}
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr string) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return New(client), nil
}

// WithPrefix namespaces every key (e.g. per environment).
func (s *Store) WithPrefix(prefix string) *Store {
	return &Store{client: s.client, prefix: prefix}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) UsageCount(ctx context.Context, key benefit.UsageKey) (int, error) {
	n, err := s.client.HGet(ctx, s.countsKey(key.PetID, key.Year), field(key)).Int()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) IncrementUsage(ctx context.Context, key benefit.UsageKey, at time.Time) (int, error) {
	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, s.countsKey(key.PetID, key.Year), field(key), 1)
		pipe.HSet(ctx, s.timesKey(key.PetID, key.Year), field(key), at.UTC().Format(time.RFC3339Nano))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage %s: %w", key, err)
	}
	return int(incr.Val()), nil
}

func (s *Store) ListUsage(ctx context.Context, pet benefit.PetID, year int) ([]benefit.UsageRecord, error) {
	counts, err := s.client.HGetAll(ctx, s.countsKey(pet, year)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list usage for %s: %w", pet, err)
	}
	times, err := s.client.HGetAll(ctx, s.timesKey(pet, year)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list usage times for %s: %w", pet, err)
	}

	fields := make([]string, 0, len(counts))
	for f := range counts {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	result := make([]benefit.UsageRecord, 0, len(fields))
	for _, f := range fields {
		plan, procedure, ok := strings.Cut(f, "|")
		if !ok {
			return nil, fmt.Errorf("malformed usage field %q", f)
		}
		var count int
		if _, err := fmt.Sscan(counts[f], &count); err != nil {
			return nil, fmt.Errorf("malformed usage count %q: %w", counts[f], err)
		}
		updatedAt, _ := time.Parse(time.RFC3339Nano, times[f])

		result = append(result, benefit.UsageRecord{
			Key: benefit.UsageKey{
				PetID:       pet,
				ProcedureID: benefit.ProcedureID(procedure),
				PlanID:      benefit.PlanID(plan),
				Year:        year,
			},
			Count:     count,
			UpdatedAt: updatedAt,
		})
	}
	return result, nil
}

func (s *Store) countsKey(pet benefit.PetID, year int) string {
	return fmt.Sprintf("%s:%s:%d", s.prefix, pet, year)
}

func (s *Store) timesKey(pet benefit.PetID, year int) string {
	return fmt.Sprintf("%s_at:%s:%d", s.prefix, pet, year)
}

func field(key benefit.UsageKey) string {
	return string(key.PlanID) + "|" + string(key.ProcedureID)
}
