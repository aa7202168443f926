package ens

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ens "github.com/benny-conn/go-ens"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gammazero/workerpool"

	"github.com/1hive/gardens-points/service/logger"
	"github.com/1hive/gardens-points/service/persist"
)

const (
	cacheTTL       = 24 * time.Hour
	avatarRetryTTL = 24 * time.Hour
	pruneInterval  = time.Hour

	metadataAvatarBaseURL = "https://metadata.ens.domains/mainnet/avatar"
)

// Resolver resolves reverse ENS names and avatars on mainnet, caching both
// hits and misses so unset reverse records are not retried every run.
type Resolver struct {
	httpClient *http.Client

	reverse    func(addr persist.Address) (string, error)
	textRecord func(name, key string) (string, error)

	mu        sync.Mutex
	entries   map[persist.Address]persist.EnsCacheEntry
	dirty     bool
	lastPrune time.Time

	now func() time.Time
}

func NewResolver(ethClient *ethclient.Client, httpClient *http.Client) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{
		httpClient: httpClient,
		reverse: func(addr persist.Address) (string, error) {
			return ens.ReverseResolve(ethClient, addr.Common())
		},
		textRecord: func(name, key string) (string, error) {
			resolver, err := ens.NewResolver(ethClient, name)
			if err != nil {
				return "", err
			}
			return resolver.Text(key)
		},
		entries: map[persist.Address]persist.EnsCacheEntry{},
		now:     time.Now,
	}
}

// Hydrate loads identity entries from a pinned snapshot.
func (r *Resolver) Hydrate(entries []persist.EnsCacheEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if e.Address == "" {
			continue
		}
		r.entries[e.Address] = e
	}
}

// Snapshot returns the cache for pinning and whether it changed.
func (r *Resolver) Snapshot() ([]persist.EnsCacheEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]persist.EnsCacheEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out, r.dirty
}

// Identity returns the ENS name and avatar for addr, or nils when unset.
// Lookups never fail the caller; errors degrade to a cached miss.
func (r *Resolver) Identity(ctx context.Context, addr persist.Address) (name, avatar *string) {
	if addr.IsZero() {
		return nil, nil
	}
	r.pruneExpired()
	now := r.now().UnixMilli()

	r.mu.Lock()
	cached, ok := r.entries[addr]
	r.mu.Unlock()

	if ok && now-cached.FetchedAt < cacheTTL.Milliseconds() {
		if cached.Avatar != nil || cached.Name == nil {
			return cached.Name, cached.Avatar
		}
		// Name known but no avatar yet: retry on the avatar's own clock.
		if now-cached.AvatarFetchedAt < avatarRetryTTL.Milliseconds() {
			return cached.Name, nil
		}
		av := r.resolveAvatar(ctx, *cached.Name)
		cached.Avatar = av
		cached.AvatarFetchedAt = now
		r.store(addr, cached)
		return cached.Name, av
	}

	entry := persist.EnsCacheEntry{Address: addr, FetchedAt: now, AvatarFetchedAt: now}
	resolved, err := r.reverse(addr)
	if err != nil {
		// The reverse resolver reverts when unset; cache the miss quietly.
		if !strings.Contains(strings.ToLower(err.Error()), "reverse") {
			logger.For(ctx).Warnf("ens lookup failed for %s: %s", addr, err)
		}
		r.store(addr, entry)
		return nil, nil
	}
	if resolved == "" {
		r.store(addr, entry)
		return nil, nil
	}
	entry.Name = &resolved
	entry.Avatar = r.resolveAvatar(ctx, resolved)
	r.store(addr, entry)
	return entry.Name, entry.Avatar
}

// ResolveAll resolves a batch of addresses concurrently and returns the
// identities keyed by address.
func (r *Resolver) ResolveAll(ctx context.Context, addrs []persist.Address, concurrency int) map[persist.Address]persist.EnsCacheEntry {
	if concurrency < 1 {
		concurrency = 4
	}
	wp := workerpool.New(concurrency)
	var mu sync.Mutex
	out := make(map[persist.Address]persist.EnsCacheEntry, len(addrs))
	for _, addr := range addrs {
		addr := addr
		wp.Submit(func() {
			name, avatar := r.Identity(ctx, addr)
			mu.Lock()
			out[addr] = persist.EnsCacheEntry{Address: addr, Name: name, Avatar: avatar}
			mu.Unlock()
		})
	}
	wp.StopWait()
	return out
}

func (r *Resolver) store(addr persist.Address, entry persist.EnsCacheEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[addr] = entry
	r.dirty = true
}

var metadataAvatarURL = func(name string) string {
	return fmt.Sprintf("%s/%s", metadataAvatarBaseURL, url.PathEscape(strings.ToLower(name)))
}

// resolveAvatar tries the avatar text record first, then falls back to the
// ENS metadata service, whose URL is usable directly when it answers a HEAD.
func (r *Resolver) resolveAvatar(ctx context.Context, name string) *string {
	if av, err := r.textRecord(name, "avatar"); err == nil && av != "" {
		return &av
	}
	u := metadataAvatarURL(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return nil
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return &u
	}
	logger.For(ctx).Debugf("ens avatar not found for name %s", name)
	return nil
}

func (r *Resolver) pruneExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.lastPrune) < pruneInterval {
		return
	}
	r.lastPrune = now
	for addr, entry := range r.entries {
		if now.UnixMilli()-entry.FetchedAt >= cacheTTL.Milliseconds() {
			delete(r.entries, addr)
		}
	}
}
