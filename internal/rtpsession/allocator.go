// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package rtpsession implements the C7 RTP session (spec.md §4.7): a
// per-call UDP socket paced at 20ms, fed from a distributed even-port pool,
// with symmetric-RTP recovery subordinate to SDP authority.
package rtpsession

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/voicecore/internal/logging"
)

const (
	rtpAvailableKey    = "{rtp:ports}:available"
	rtpAllocatedPrefix = "{rtp:ports}:allocated:"
	rtpAllocatedTTL    = 10 * time.Minute
)

// PortStore is the narrow surface the RTP session depends on; PortAllocator
// and LocalPortAllocator both satisfy it, so a single instance can run on
// the in-process LocalPortAllocator without a live Redis.
type PortStore interface {
	Allocate() (int, error)
	Release(port int)
}

// PortAllocator hands out even-numbered RTP ports (RFC 3550: RTCP takes the
// following odd port) from a Redis-backed pool shared across instances.
type PortAllocator struct {
	client     *redis.Client
	logger     logging.Logger
	portStart  int
	portEnd    int
	instanceID string
}

// NewPortAllocator builds an allocator over [portStart, portEnd). client may
// be nil, in which case every call returns an error — callers running a
// single instance without Redis configured should use LocalPortAllocator
// instead.
func NewPortAllocator(client *redis.Client, logger logging.Logger, portStart, portEnd int) *PortAllocator {
	hostname, _ := os.Hostname()
	return &PortAllocator{
		client:     client,
		logger:     logger,
		portStart:  portStart,
		portEnd:    portEnd,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

var initLuaScript = redis.NewScript(`
	local key = KEYS[1]
	local exists = redis.call('EXISTS', key)
	if exists == 0 then
		for i = 1, #ARGV do
			redis.call('SADD', key, ARGV[i])
		end
		return #ARGV
	end
	return 0
`)

// Init populates the available-ports set on first use and reclaims any
// ports left allocated by a previous instance sharing this hostname:pid
// (i.e. a crash-restart under the same process identity).
func (a *PortAllocator) Init(ctx context.Context) error {
	if a.client == nil {
		return fmt.Errorf("rtpsession: redis not configured for port allocator")
	}

	start := a.portStart
	if start%2 != 0 {
		start++
	}
	ports := make([]interface{}, 0, (a.portEnd-start)/2)
	for port := start; port < a.portEnd; port += 2 {
		ports = append(ports, port)
	}
	if len(ports) == 0 {
		return fmt.Errorf("rtpsession: no even ports in range %d-%d", a.portStart, a.portEnd)
	}

	result, err := initLuaScript.Run(ctx, a.client, []string{rtpAvailableKey}, ports...).Int()
	if err != nil {
		return fmt.Errorf("rtpsession: failed to seed port pool: %w", err)
	}
	if result > 0 {
		a.logger.Info("rtpsession: seeded port pool", "portsAdded", result)
	}

	a.reclaimCrashedPorts(ctx)
	return nil
}

var allocateLuaScript = redis.NewScript(`
	local port = redis.call('SPOP', KEYS[1])
	if port == false then
		return -1
	end
	redis.call('SADD', KEYS[2], port)
	return port
`)

// Allocate pops one even port from the shared pool.
func (a *PortAllocator) Allocate() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.client == nil {
		return 0, fmt.Errorf("rtpsession: redis not configured for port allocator")
	}

	instanceKey := rtpAllocatedPrefix + a.instanceID
	result, err := allocateLuaScript.Run(ctx, a.client, []string{rtpAvailableKey, instanceKey}).Int()
	if err != nil {
		return 0, fmt.Errorf("rtpsession: allocate failed: %w", err)
	}
	if result == -1 {
		return 0, fmt.Errorf("rtpsession: no RTP ports available in range %d-%d", a.portStart, a.portEnd)
	}

	a.client.Expire(ctx, instanceKey, rtpAllocatedTTL)
	return result, nil
}

var releaseLuaScript = redis.NewScript(`
	redis.call('SREM', KEYS[2], ARGV[1])
	redis.call('SADD', KEYS[1], ARGV[1])
	return 1
`)

// Release returns a port to the shared pool.
func (a *PortAllocator) Release(port int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.client == nil {
		return
	}
	instanceKey := rtpAllocatedPrefix + a.instanceID
	if _, err := releaseLuaScript.Run(ctx, a.client, []string{rtpAvailableKey, instanceKey}, port).Result(); err != nil {
		a.logger.Error("rtpsession: failed to release port", "port", port, "error", err)
	}
}

func (a *PortAllocator) reclaimCrashedPorts(ctx context.Context) {
	instanceKey := rtpAllocatedPrefix + a.instanceID
	ports, err := a.client.SMembers(ctx, instanceKey).Result()
	if err != nil || len(ports) == 0 {
		return
	}
	a.logger.Warn("rtpsession: reclaiming ports from a prior instance under this identity", "instance", a.instanceID, "count", len(ports))
	for _, portStr := range ports {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		a.Release(port)
	}
}

// ReleaseAll returns every port this instance currently holds. Call during
// graceful shutdown.
func (a *PortAllocator) ReleaseAll(ctx context.Context) {
	if a.client == nil {
		return
	}
	instanceKey := rtpAllocatedPrefix + a.instanceID
	ports, err := a.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return
	}
	for _, portStr := range ports {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		a.Release(port)
	}
	a.client.Del(ctx, instanceKey)
}

// LocalPortAllocator is a single-instance fallback used when no Redis
// address is configured (spec.md §6.4 leaves Redis optional for the
// single-instance deployment case).
type LocalPortAllocator struct {
	portStart int
	portEnd   int
	next      int
	used      map[int]bool
}

// NewLocalPortAllocator builds an in-process allocator over [portStart, portEnd).
func NewLocalPortAllocator(portStart, portEnd int) *LocalPortAllocator {
	start := portStart
	if start%2 != 0 {
		start++
	}
	return &LocalPortAllocator{portStart: start, portEnd: portEnd, next: start, used: make(map[int]bool)}
}

func (a *LocalPortAllocator) Allocate() (int, error) {
	for i := 0; i < (a.portEnd-a.portStart)/2+1; i++ {
		p := a.next
		a.next += 2
		if a.next >= a.portEnd {
			a.next = a.portStart
		}
		if !a.used[p] {
			a.used[p] = true
			return p, nil
		}
	}
	return 0, fmt.Errorf("rtpsession: no local RTP ports available in range %d-%d", a.portStart, a.portEnd)
}

func (a *LocalPortAllocator) Release(port int) {
	delete(a.used, port)
}
