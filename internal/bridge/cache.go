package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/channel"
	"github.com/srg/webble/internal/device"
	"golang.org/x/sync/singleflight"
)

// CharacteristicCache memoizes characteristic enumeration per (connection,
// service). The first lookup for a pair issues one "characteristics"
// command; concurrent first lookups share it. Successful results are kept
// for the lifetime of the cache, failures are not cached.
type CharacteristicCache struct {
	sender  Sender
	entries *hashmap.Map[string, []device.Characteristic]
	group   singleflight.Group
	logger  *logrus.Logger
	metrics *Metrics
}

// NewCharacteristicCache creates an empty cache.
func NewCharacteristicCache(sender Sender, logger *logrus.Logger, metrics *Metrics) *CharacteristicCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &CharacteristicCache{
		sender:  sender,
		entries: hashmap.New[string, []device.Characteristic](),
		logger:  logger,
		metrics: metrics,
	}
}

// Get returns the characteristics of service on the connection gattID. When
// characteristic is not zero, only the entries whose uuid normalizes to the
// same identifier are returned. The returned slice is a copy.
func (c *CharacteristicCache) Get(ctx context.Context, gattID json.RawMessage, service, characteristic device.Identifier) ([]device.Characteristic, error) {
	svc, err := service.Normalize()
	if err != nil {
		return nil, err
	}

	var want string
	if !characteristic.IsZero() {
		if want, err = characteristic.Normalize(); err != nil {
			return nil, err
		}
	}

	all, err := c.load(ctx, gattID, svc)
	if err != nil {
		return nil, err
	}

	out := make([]device.Characteristic, 0, len(all))
	for _, ch := range all {
		if want == "" || ch.Matches(want) {
			out = append(out, ch)
		}
	}
	return out, nil
}

// First returns the first characteristic Get would return, or a
// *device.NotFoundError for the characteristic.
func (c *CharacteristicCache) First(ctx context.Context, gattID json.RawMessage, service, characteristic device.Identifier) (device.Characteristic, error) {
	chars, err := c.Get(ctx, gattID, service, characteristic)
	if err != nil {
		return device.Characteristic{}, err
	}
	if len(chars) == 0 {
		return device.Characteristic{}, &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{service.String(), characteristic.String()},
		}
	}
	return chars[0], nil
}

// Len returns the number of cached (connection, service) pairs.
func (c *CharacteristicCache) Len() int {
	return c.entries.Len()
}

func cacheKey(gattID json.RawMessage, service string) string {
	return channel.Token(gattID) + "/" + service
}

func (c *CharacteristicCache) load(ctx context.Context, gattID json.RawMessage, service string) ([]device.Characteristic, error) {
	key := cacheKey(gattID, service)
	if chars, ok := c.entries.Get(key); ok {
		c.metrics.recordCacheLookup(true)
		return chars, nil
	}
	c.metrics.recordCacheLookup(false)

	// The shared enumeration outlives any single caller's context.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if chars, ok := c.entries.Get(key); ok {
			return chars, nil
		}

		c.logger.WithFields(logrus.Fields{
			"device":  channel.Token(gattID),
			"service": service,
		}).Debug("Enumerating characteristics")

		raw, err := c.sender.Send(shared, "characteristics",
			Arg("device", gattID),
			Arg("service", device.BraceUUID(service)),
		)
		if err != nil {
			return nil, err
		}

		var chars []device.Characteristic
		if err := json.Unmarshal(raw, &chars); err != nil {
			return nil, fmt.Errorf("failed to decode characteristics of %s: %w", service, err)
		}
		c.entries.Set(key, chars)
		return chars, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]device.Characteristic), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
