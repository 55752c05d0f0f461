package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-collab/core"
)

type Option func(*Catalog)

func WithRegistry(registry *Registry) Option {
	return func(c *Catalog) {
		if registry != nil {
			c.registry = registry
		}
	}
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(c *Catalog) {
		c.telemetry = telemetry
	}
}

// Catalog holds the per-tier service URLs and readiness flags on top of a
// Registry.
type Catalog struct {
	mu        sync.RWMutex
	cfg       core.CatalogConfig
	registry  *Registry
	telemetry core.Telemetry
	tiers     map[Tier][]*ServiceURL
	ready     map[Tier]bool
	readyCh   map[Tier]chan struct{}
	// changed is closed and replaced on every content change.
	changed chan struct{}
}

func New(cfg core.CatalogConfig, options ...Option) *Catalog {
	c := &Catalog{
		cfg:      cfg,
		registry: NewRegistry(),
		tiers:    map[Tier][]*ServiceURL{},
		ready:    map[Tier]bool{},
		readyCh:  map[Tier]chan struct{}{},
		changed:  make(chan struct{}),
	}
	for _, tier := range orderedTiers {
		c.readyCh[tier] = make(chan struct{})
	}
	for _, opt := range options {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Catalog) Registry() *Registry {
	return c.registry
}

func (c *Catalog) IsReady(tier Tier) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready[tier]
}

// MarkReady flips the tier to ready and releases every waiter. It stays
// ready until ClearTier.
func (c *Catalog) MarkReady(tier Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("catalog: invalid tier %q", tier)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markReadyLocked(tier)
	return nil
}

func (c *Catalog) markReadyLocked(tier Tier) {
	if c.ready[tier] {
		return
	}
	c.ready[tier] = true
	close(c.readyCh[tier])
}

// ClearTier drops the tier content, its registry hosts and its ready flag.
func (c *Catalog) ClearTier(tier Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("catalog: invalid tier %q", tier)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tiers, tier)
	if c.ready[tier] {
		c.ready[tier] = false
		c.readyCh[tier] = make(chan struct{})
	}
	c.registry.Clear(Filter{CatalogTiers: []Tier{tier}})
	c.notifyLocked()
	return nil
}

// Update replaces the tier content with payload. Hosts previously registered
// for the tier are marked replaced before the new hosts are loaded, then the
// tier is marked ready.
func (c *Catalog) Update(tier Tier, payload DiscoveryPayload) error {
	if !tier.Valid() {
		return fmt.Errorf("catalog: invalid tier %q", tier)
	}
	services := payload.ServiceURLs()
	entries := make([]*ServiceURL, 0, len(services))
	for idx := range services {
		entries = append(entries, &services[idx])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tierOnly := []Tier{tier}
	c.registry.pruneReplaced(tier)
	c.registry.Replaced(Filter{CatalogTiers: tierOnly})
	if _, err := c.registry.LoadPayload(tier, payload); err != nil {
		return err
	}
	c.tiers[tier] = entries
	c.markReadyLocked(tier)
	c.notifyLocked()
	c.telemetry.Debug(context.Background(), "catalog tier updated", map[string]any{
		"tier":     string(tier),
		"services": len(entries),
	})
	return nil
}

func (c *Catalog) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Get resolves a service name to a URL. An empty tier searches every tier in
// rank order. Priority hosts come from the registry, so they follow failover.
func (c *Catalog) Get(name string, priorityHost bool, tier Tier) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, candidate := range c.searchTiers(tier) {
		for _, service := range c.tiers[candidate] {
			if service.Name == name {
				return c.serviceURLLocked(service, priorityHost, tier), true
			}
		}
	}
	return "", false
}

// List returns the service name to URL map across tiers, better ranked
// tiers winning.
func (c *Catalog) List(priorityHost bool, tier Tier) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := map[string]string{}
	tiers := c.searchTiers(tier)
	for idx := len(tiers) - 1; idx >= 0; idx-- {
		for _, service := range c.tiers[tiers[idx]] {
			out[service.Name] = c.serviceURLLocked(service, priorityHost, tier)
		}
	}
	return out
}

// serviceURLLocked falls back to the default URL when no live host is known.
func (c *Catalog) serviceURLLocked(service *ServiceURL, priorityHost bool, tier Tier) string {
	if !priorityHost {
		return service.DefaultURL
	}
	var tiers []Tier
	if tier != "" {
		tiers = []Tier{tier}
	}
	if next, ok := c.registry.PriorityURL(service.Name, tiers...); ok {
		return next
	}
	return service.DefaultURL
}

// ServiceURLs returns copies of the tier's entries.
func (c *Catalog) ServiceURLs(tier Tier) []ServiceURL {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ServiceURL, 0, len(c.tiers[tier]))
	for _, service := range c.tiers[tier] {
		out = append(out, service.clone())
	}
	return out
}

func (c *Catalog) searchTiers(tier Tier) []Tier {
	if tier != "" {
		return []Tier{tier}
	}
	return orderedTiers
}

// FindServiceURL returns the entry serving rawURL.
func (c *Catalog) FindServiceURL(rawURL string) (ServiceURL, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	service := c.findServiceURLLocked(rawURL)
	if service == nil {
		return ServiceURL{}, false
	}
	return service.clone(), true
}

func (c *Catalog) findServiceURLLocked(rawURL string) *ServiceURL {
	for _, tier := range orderedTiers {
		for _, service := range c.tiers[tier] {
			if service.Matches(rawURL) {
				return service
			}
		}
	}
	return nil
}

func (c *Catalog) IsServiceURL(rawURL string) bool {
	_, ok := c.FindServiceURL(rawURL)
	return ok
}

func (c *Catalog) FindServiceName(rawURL string) (string, bool) {
	service, ok := c.FindServiceURL(rawURL)
	if !ok {
		return "", false
	}
	return service.Name, true
}

func (c *Catalog) FindClusterID(rawURL string) (string, bool) {
	return c.registry.FindClusterID(rawURL)
}

func (c *Catalog) FindServiceFromClusterID(clusterID string, priority bool) (ServiceMatch, bool) {
	return c.registry.FindServiceFromClusterID(clusterID, priority)
}

// Map is the registry service map.
func (c *Catalog) Map() map[string]string {
	return c.registry.Map()
}

// MarkFailedURL runs the registry failover algorithm and mirrors the
// outcome on the owning ServiceURL.
func (c *Catalog) MarkFailedURL(rawURL string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outcome, ok := c.registry.FailURL(rawURL, c.cfg.NoPriorityHostsPolicy)
	if service := c.findServiceURLLocked(rawURL); service != nil {
		service.FailHost(rawURL)
		if outcome.Reset {
			service.ResetHosts()
		}
		if !ok {
			outcome.Next, ok = c.serviceURLLocked(service, true, ""), true
		}
	}
	if ok {
		c.telemetry.Warn(context.Background(), "catalog host marked failed", map[string]any{
			"url":   rawURL,
			"next":  outcome.Next,
			"reset": outcome.Reset,
		})
		c.telemetry.Counter(context.Background(), core.MetricHostFailedTotal, 1, map[string]string{
			"service": serviceForMetrics(c.registry, rawURL),
		})
	}
	return outcome.Next, ok
}

func serviceForMetrics(registry *Registry, rawURL string) string {
	if registry != nil {
		if clusterID, ok := registry.FindClusterID(rawURL); ok {
			return ServiceNameFromClusterID(clusterID)
		}
	}
	return hostname(rawURL)
}

// WaitForCatalog blocks until tier is ready. A timeout of zero or less uses
// the configured default.
func (c *Catalog) WaitForCatalog(ctx context.Context, tier Tier, timeout time.Duration) error {
	if !tier.Valid() {
		return fmt.Errorf("catalog: invalid tier %q", tier)
	}
	if timeout <= 0 {
		timeout = c.cfg.WaitTimeout
	}
	if timeout <= 0 {
		timeout = core.DefaultCatalogWaitTimeout
	}
	c.mu.RLock()
	ready := c.ready[tier]
	signal := c.readyCh[tier]
	c.mu.RUnlock()
	if ready {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-signal:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.telemetry.Counter(ctx, core.MetricCatalogWaitTimeoutTot, 1, map[string]string{"tier": string(tier)})
		return &core.TimeoutError{Operation: "wait_for_catalog", Target: string(tier), After: timeout}
	}
}

// WaitForService blocks until nameOrURL resolves through the catalog and
// returns the resolved URL.
func (c *Catalog) WaitForService(ctx context.Context, nameOrURL string, timeout time.Duration) (string, error) {
	nameOrURL = strings.TrimSpace(nameOrURL)
	if nameOrURL == "" {
		return "", core.NewBadInputError("catalog: service name or url is required")
	}
	if timeout <= 0 {
		timeout = core.DefaultServiceWaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.RLock()
		changed := c.changed
		c.mu.RUnlock()

		if resolved, ok := c.resolve(nameOrURL); ok {
			return resolved, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", &core.TimeoutError{Operation: "wait_for_service", Target: nameOrURL, After: timeout}
		}
	}
}

func (c *Catalog) resolve(nameOrURL string) (string, bool) {
	if strings.Contains(nameOrURL, "://") {
		if c.IsServiceURL(nameOrURL) {
			return nameOrURL, true
		}
		return "", false
	}
	return c.Get(nameOrURL, true, "")
}
