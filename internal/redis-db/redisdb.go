/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redis_db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 500 * time.Millisecond

// Redis holds the shared client used by the lock manager, the failure ledger
// and the lookup cache.
type Redis struct {
	addresses []string
	client    redis.UniversalClient
}

// ParseRedisURL turns a Redis DNS into client options. Plain "host:port" values
// are used as-is; "redis://password@host:port" is accepted without the leading colon.
func ParseRedisURL(rawURL string, skipTLSVerify bool) (*redis.Options, error) {
	if rawURL == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	if strings.Count(rawURL, ":") == 1 && !strings.Contains(rawURL, "@") && !strings.Contains(rawURL, "//") {
		return &redis.Options{Addr: rawURL}, nil
	}

	if strings.HasPrefix(rawURL, "redis://") && strings.Contains(rawURL, "@") {
		parts := strings.SplitN(strings.TrimPrefix(rawURL, "redis://"), "@", 2)
		if len(parts) == 2 && !strings.Contains(parts[0], ":") {
			rawURL = fmt.Sprintf("redis://:%s@%s", parts[0], parts[1])
		}
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if opts.TLSConfig != nil && skipTLSVerify {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec
		}
	}

	return opts, nil
}

// NewRedisClient connects to a single node, or to a cluster when more than one
// address is given, and pings it before returning.
func NewRedisClient(addresses []string, skipTLSVerify bool) (*Redis, error) {
	client, err := newUniversalClient(addresses, skipTLSVerify)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{addresses: addresses, client: client}, nil
}

func newUniversalClient(addresses []string, skipTLSVerify bool) (redis.UniversalClient, error) {
	if len(addresses) == 0 {
		return nil, errors.New("redis addresses list cannot be empty")
	}

	if len(addresses) == 1 {
		opts, err := ParseRedisURL(addresses[0], skipTLSVerify)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}

	var (
		clusterAddrs []string
		password     string
		useTLS       bool
	)
	for _, addr := range addresses {
		opts, err := ParseRedisURL(addr, skipTLSVerify)
		if err != nil {
			return nil, err
		}
		clusterAddrs = append(clusterAddrs, opts.Addr)
		if password == "" {
			password = opts.Password
		}
		useTLS = useTLS || opts.TLSConfig != nil
	}

	var tlsConfig *tls.Config
	if useTLS {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: skipTLSVerify, //nolint:gosec
		}
	}

	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     clusterAddrs,
		Password:  password,
		TLSConfig: tlsConfig,
	}), nil
}

// Client returns the universal client.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// Addresses returns the configured node addresses.
func (r *Redis) Addresses() []string {
	return r.addresses
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
