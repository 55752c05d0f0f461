package catalog

// Filter composes registry predicates by intersection. Nil or empty fields
// are ignored. Priority reduces the matching active hosts to one per host
// group.
type Filter struct {
	Active       *bool
	Local        *bool
	Priority     bool
	CatalogTiers []Tier
	Clusters     []string
	Services     []string
	URLs         []string
}

func Bool(value bool) *bool {
	return &value
}

func (f Filter) match(host Host) bool {
	if f.Active != nil && host.Active() != *f.Active {
		return false
	}
	if f.Local != nil && host.Local() != *f.Local {
		return false
	}
	if len(f.CatalogTiers) > 0 && !containsTier(f.CatalogTiers, host.CatalogTier) {
		return false
	}
	if len(f.Clusters) > 0 && !containsString(f.Clusters, host.ClusterID) {
		return false
	}
	if len(f.Services) > 0 && !containsString(f.Services, host.ServiceName()) {
		return false
	}
	if len(f.URLs) > 0 {
		hostURL := normalizeURL(host.URL())
		matched := false
		for _, candidate := range f.URLs {
			if normalizeURL(candidate) == hostURL {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containsTier(values []Tier, target Tier) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
