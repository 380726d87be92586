// Package redisstore backs a session.Store with Redis, for deployments where
// several workers share one portal identity (a reporting sweep fanned out over
// workers, for example) and a refresh performed by one must be visible to all.
package redisstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/forte001/gracecoop-go/session"
)

const opTimeout = 5 * time.Second

var _ session.Store = (*Store)(nil)

type Store struct {
	client *redis.Client
	prefix string
}

type StoreOption func(*Store)

// WithKeyPrefix namespaces all keys, so multiple portal environments can share
// one Redis instance.
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func New(client *redis.Client, options ...StoreOption) (*Store, error) {
	if client == nil {
		return nil, errors.New("[redisstore.New] client is required")
	}

	s := &Store{
		client: client,
		prefix: "gracecoop:session:",
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Store) key(namespace session.Namespace, kind session.Kind) string {
	return s.prefix + session.StorageKey(namespace, kind)
}

func (s *Store) Get(namespace session.Namespace, kind session.Kind) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	value, err := s.client.Get(ctx, s.key(namespace, kind)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "[redisstore.Get] redis get")
	}
	return value, nil
}

func (s *Store) Set(namespace session.Namespace, kind session.Kind, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(namespace, kind), value, 0).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Set] redis set")
	}
	return nil
}

func (s *Store) Clear(namespace session.Namespace) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	keys := []string{
		s.key(namespace, session.KindAccess),
		s.key(namespace, session.KindRefresh),
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "[redisstore.Clear] redis del")
	}
	return nil
}
