/*
Copyright 2025 CrossCheck Finance Authors.

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

// Redis wraps a universal client so the same handle serves standalone and
// clustered deployments.
type Redis struct {
	addresses []string
	client    redis.UniversalClient
}

// ParseRedisURL turns a configured Redis DNS entry into client options. It
// accepts docker-style host:port pairs, full redis:// URLs, and URLs whose
// credential part is a bare password without a username.
func ParseRedisURL(rawURL string, skipTLSVerify bool) (*redis.Options, error) {
	// Docker-style addresses (e.g. redis:6379) are not URLs; hand them to
	// the client untouched.
	if strings.Count(rawURL, ":") == 1 && !strings.Contains(rawURL, "@") && !strings.Contains(rawURL, "//") {
		return &redis.Options{
			Addr: rawURL,
		}, nil
	}

	// redis://password@host is common in managed setups; rewrite it to the
	// redis://:password@host form ParseURL understands.
	if strings.HasPrefix(rawURL, "redis://") && strings.Contains(rawURL, "@") {
		parts := strings.Split(strings.TrimPrefix(rawURL, "redis://"), "@")
		if len(parts) == 2 && !strings.Contains(parts[0], ":") {
			rawURL = fmt.Sprintf("redis://:%s@%s", parts[0], parts[1])
		}
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		// Last resort: pull apart password@host by hand.
		host := rawURL
		var password string
		if strings.Contains(rawURL, "@") {
			parts := strings.Split(rawURL, "@")
			if len(parts) == 2 {
				password = strings.TrimPrefix(parts[0], "redis://")
				host = parts[1]
			}
		}
		opts = &redis.Options{
			Addr:     host,
			Password: password,
			DB:       0,
		}
	}

	if opts.TLSConfig != nil && skipTLSVerify {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: skipTLSVerify,
		}
	}

	return opts, nil
}

// NewRedisClient connects to Redis using the provided addresses. One address
// produces a standalone client, several produce a cluster client. The
// connection is verified with a short ping before it is handed back.
//
// Parameters:
// - addresses []string: Redis addresses; a single entry for standalone mode.
// - skipTLSVerify bool: Whether to skip TLS certificate verification.
//
// Returns:
// - *Redis: The connected client wrapper.
// - error: An error if no address is given or the connection fails.
func NewRedisClient(addresses []string, skipTLSVerify bool) (*Redis, error) {
	if len(addresses) == 0 {
		return nil, errors.New("redis addresses list cannot be empty")
	}

	var client redis.UniversalClient

	if len(addresses) == 1 {
		opts, err := ParseRedisURL(addresses[0], skipTLSVerify)
		if err != nil {
			return nil, err
		}
		client = redis.NewClient(opts)
	} else {
		var clusterAddrs []string
		var password string
		useTLS := false

		for _, addr := range addresses {
			opts, err := ParseRedisURL(addr, skipTLSVerify)
			if err != nil {
				return nil, err
			}
			clusterAddrs = append(clusterAddrs, opts.Addr)

			// The first address that carries a password wins.
			if password == "" && opts.Password != "" {
				password = opts.Password
			}
			if opts.TLSConfig != nil {
				useTLS = true
			}
		}

		var tlsConfig *tls.Config
		if useTLS {
			tlsConfig = &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: skipTLSVerify,
			}
		}

		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:     clusterAddrs,
			Password:  password,
			TLSConfig: tlsConfig,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	return &Redis{addresses: addresses, client: client}, nil
}

// Client returns the underlying universal client for direct Redis operations.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// MakeRedisClient satisfies the connection interfaces of asynq and asynqmon,
// which accept the client as an opaque value.
func (r *Redis) MakeRedisClient() interface{} {
	return r.client
}
