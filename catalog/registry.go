package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-collab/core"
)

// Registry owns every Host across all tiers. Each exported method completes
// its state transition under a single lock.
type Registry struct {
	mu    sync.RWMutex
	hosts []*Host
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Load ingests hosts into tier. Hosts already present with the same identity
// are left untouched; the newly appended hosts are returned.
func (r *Registry) Load(tier Tier, hosts ...Host) ([]Host, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("catalog: invalid tier %q", tier)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	known := make(map[string]struct{}, len(r.hosts))
	for _, host := range r.hosts {
		if host.Replaced {
			continue
		}
		known[host.identity()] = struct{}{}
	}
	added := make([]Host, 0, len(hosts))
	for _, host := range hosts {
		host.CatalogTier = tier
		key := host.identity()
		if _, exists := known[key]; exists {
			continue
		}
		known[key] = struct{}{}
		stored := host
		r.hosts = append(r.hosts, &stored)
		added = append(added, stored)
	}
	return added, nil
}

// Find returns copies of the hosts matching every predicate of filter.
func (r *Registry) Find(filter Filter) []Host {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyHosts(r.findLocked(filter))
}

func (r *Registry) findLocked(filter Filter) []*Host {
	matched := make([]*Host, 0, len(r.hosts))
	for _, host := range r.hosts {
		if filter.match(*host) {
			matched = append(matched, host)
		}
	}
	if !filter.Priority {
		return matched
	}
	return reducePriority(matched)
}

// reducePriority keeps, per host group, the active host with the best
// (tier rank, priority) pair. Ties keep registration order.
func reducePriority(hosts []*Host) []*Host {
	best := map[string]*Host{}
	order := []string{}
	for _, host := range hosts {
		if !host.Active() {
			continue
		}
		current, ok := best[host.HostGroup]
		if !ok {
			order = append(order, host.HostGroup)
			best[host.HostGroup] = host
			continue
		}
		if host.better(*current) {
			best[host.HostGroup] = host
		}
	}
	reduced := make([]*Host, 0, len(order))
	for _, group := range order {
		reduced = append(reduced, best[group])
	}
	return reduced
}

// Map resolves service name to URL over active, local, priority hosts.
func (r *Registry) Map() map[string]string {
	hosts := r.Find(Filter{Active: Bool(true), Local: Bool(true), Priority: true})
	winners := map[string]Host{}
	for _, host := range hosts {
		name := host.ServiceName()
		if name == "" {
			continue
		}
		current, ok := winners[name]
		if !ok || host.better(current) {
			winners[name] = host
		}
	}
	out := make(map[string]string, len(winners))
	for name, host := range winners {
		out[name] = host.URL()
	}
	return out
}

// Clear removes the filtered hosts and returns them.
func (r *Registry) Clear(filter Filter) []Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.findLocked(filter)
	if len(removed) == 0 {
		return nil
	}
	drop := make(map[*Host]struct{}, len(removed))
	for _, host := range removed {
		drop[host] = struct{}{}
	}
	kept := r.hosts[:0]
	for _, host := range r.hosts {
		if _, ok := drop[host]; ok {
			continue
		}
		kept = append(kept, host)
	}
	for idx := len(kept); idx < len(r.hosts); idx++ {
		r.hosts[idx] = nil
	}
	r.hosts = kept
	return copyHosts(removed)
}

// pruneReplaced drops hosts of tier that an earlier update already
// superseded.
func (r *Registry) pruneReplaced(tier Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := make([]*Host, 0, len(r.hosts))
	for _, host := range r.hosts {
		if host.CatalogTier == tier && host.Replaced {
			continue
		}
		kept = append(kept, host)
	}
	r.hosts = kept
}

// Failed flags the filtered hosts as failed until Reset.
func (r *Registry) Failed(filter Filter) []Host {
	return r.mutate(filter, func(host *Host) { host.Failed = true })
}

// Replaced flags the filtered hosts as superseded by a newer catalog.
func (r *Registry) Replaced(filter Filter) []Host {
	return r.mutate(filter, func(host *Host) { host.Replaced = true })
}

// Reset clears the failed flag of the filtered hosts. Replaced hosts stay
// excluded.
func (r *Registry) Reset(filter Filter) []Host {
	return r.mutate(filter, func(host *Host) { host.Failed = false })
}

func (r *Registry) mutate(filter Filter, apply func(*Host)) []Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := r.findLocked(filter)
	for _, host := range matched {
		apply(host)
	}
	return copyHosts(matched)
}

// FindClusterID returns the cluster id of the host serving rawURL, matching
// on hostname and preferring active hosts.
func (r *Registry) FindClusterID(rawURL string) (string, bool) {
	target := hostname(rawURL)
	if target == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var fallback *Host
	for _, host := range r.hosts {
		if hostname(host.URL()) != target {
			continue
		}
		if host.Active() {
			return host.ClusterID, true
		}
		if fallback == nil {
			fallback = host
		}
	}
	if fallback != nil {
		return fallback.ClusterID, true
	}
	return "", false
}

// ServiceMatch is the result of a cluster id lookup.
type ServiceMatch struct {
	Name string
	URL  string
}

// FindServiceFromClusterID resolves a cluster id to its service. With
// priority set the URL is the current priority host for that service rather
// than the host owning the cluster id.
func (r *Registry) FindServiceFromClusterID(clusterID string, priority bool) (ServiceMatch, bool) {
	clusterID = strings.TrimSpace(clusterID)
	if clusterID == "" {
		return ServiceMatch{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	owners := r.findLocked(Filter{Clusters: []string{clusterID}})
	if len(owners) == 0 {
		return ServiceMatch{}, false
	}
	owner := owners[0]
	for _, host := range owners {
		if host.Active() {
			owner = host
			break
		}
	}
	match := ServiceMatch{Name: owner.ServiceName(), URL: owner.URL()}
	if priority {
		if best := bestHost(r.findLocked(Filter{Services: []string{match.Name}, Active: Bool(true)})); best != nil {
			match.URL = best.URL()
		}
	}
	return match, true
}

// Failover is the outcome of marking a URL failed. Reset reports that every
// host of the service had failed and the flags were cleared.
type Failover struct {
	Service string
	Next    string
	Reset   bool
}

// MarkFailedURL flags the host serving rawURL as failed and returns the URL
// to use next. The boolean is false only for URLs the registry does not
// know.
func (r *Registry) MarkFailedURL(rawURL string, policy core.NoPriorityHostsPolicy) (string, bool) {
	outcome, ok := r.FailURL(rawURL, policy)
	return outcome.Next, ok
}

// FailURL flags every copy of the host serving rawURL, across all tiers, as
// failed. When the service has no live host left all of its hosts are reset
// and the policy decides between the default URL and the reset priority
// host.
func (r *Registry) FailURL(rawURL string, policy core.NoPriorityHostsPolicy) (Failover, bool) {
	target := normalizeURL(rawURL)
	if target == "" {
		return Failover{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var failed *Host
	for _, host := range r.hosts {
		if host.Replaced {
			continue
		}
		if hostURL := normalizeURL(host.URL()); hostURL == target || prefixMatch(target, hostURL) {
			host.Failed = true
			if failed == nil {
				failed = host
			}
		}
	}
	if failed == nil {
		return Failover{}, false
	}

	outcome := Failover{Service: failed.ServiceName()}
	siblings := r.findLocked(Filter{Services: []string{outcome.Service}})
	if next := bestHost(activeOnly(siblings)); next != nil {
		outcome.Next = next.URL()
		return outcome, true
	}

	for _, host := range siblings {
		host.Failed = false
	}
	outcome.Reset = true
	outcome.Next = failed.DefaultURI
	if policy == core.NoPriorityHostsResetHost {
		if next := bestHost(activeOnly(siblings)); next != nil {
			outcome.Next = next.URL()
		}
	}
	return outcome, true
}

// PriorityURL returns the URL of the best live host of service. Local hosts
// win over remote ones. No tiers means every tier.
func (r *Registry) PriorityURL(service string, tiers ...Tier) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := bestHost(r.findLocked(Filter{
		Services:     []string{service},
		CatalogTiers: tiers,
		Active:       Bool(true),
	}))
	if best == nil {
		return "", false
	}
	return best.URL(), true
}

// MapRemoteCatalog converts a discovery payload into hosts for tier. Entries
// whose service has no link are skipped.
func (r *Registry) MapRemoteCatalog(tier Tier, payload DiscoveryPayload) []Host {
	groups := make([]string, 0, len(payload.HostCatalog))
	for group := range payload.HostCatalog {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	hosts := []Host{}
	for _, group := range groups {
		for _, entry := range payload.HostCatalog[group] {
			service := ServiceNameFromClusterID(entry.ID)
			defaultURI, ok := payload.ServiceLinks[service]
			if !ok || strings.TrimSpace(defaultURI) == "" {
				continue
			}
			hosts = append(hosts, Host{
				CatalogTier: tier,
				DefaultURI:  defaultURI,
				Address:     entry.Host,
				HostGroup:   group,
				ClusterID:   entry.ID,
				Priority:    entry.Priority,
				HomeCluster: entry.IsHomeCluster(),
			})
		}
	}
	return hosts
}

// LoadPayload maps and loads a discovery payload into tier.
func (r *Registry) LoadPayload(tier Tier, payload DiscoveryPayload) ([]Host, error) {
	return r.Load(tier, r.MapRemoteCatalog(tier, payload)...)
}

func activeOnly(hosts []*Host) []*Host {
	out := make([]*Host, 0, len(hosts))
	for _, host := range hosts {
		if host.Active() {
			out = append(out, host)
		}
	}
	return out
}

// bestHost prefers local hosts, then the best (tier rank, priority) pair.
func bestHost(hosts []*Host) *Host {
	var best *Host
	for _, host := range hosts {
		if best == nil {
			best = host
			continue
		}
		if host.Local() != best.Local() {
			if host.Local() {
				best = host
			}
			continue
		}
		if host.better(*best) {
			best = host
		}
	}
	return best
}

func copyHosts(hosts []*Host) []Host {
	out := make([]Host, 0, len(hosts))
	for _, host := range hosts {
		out = append(out, *host)
	}
	return out
}
