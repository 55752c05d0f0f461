package catalog

import "strings"

// HostRecord is a raw host entry attached to a ServiceURL.
type HostRecord struct {
	Host        string
	Priority    int
	HomeCluster bool
	Failed      bool
}

// ServiceURL is a named service's default URL plus its ordered host records.
type ServiceURL struct {
	Name       string
	DefaultURL string
	Hosts      []HostRecord
}

func (s *ServiceURL) clone() ServiceURL {
	cloned := *s
	cloned.Hosts = append([]HostRecord(nil), s.Hosts...)
	return cloned
}

// Get returns the default URL, or the priority host URL when priorityHost is
// set and hosts are known.
func (s *ServiceURL) Get(priorityHost bool) string {
	if !priorityHost {
		return s.DefaultURL
	}
	return s.PriorityHostURL()
}

// PriorityHostURL picks the lowest priority non-failed host, preferring home
// cluster hosts over remote ones. With no live host the default URL is
// returned and the failed flags are left alone.
func (s *ServiceURL) PriorityHostURL() string {
	best := -1
	for idx, host := range s.Hosts {
		if host.Failed {
			continue
		}
		if best < 0 {
			best = idx
			continue
		}
		current := s.Hosts[best]
		if host.HomeCluster != current.HomeCluster {
			if host.HomeCluster {
				best = idx
			}
			continue
		}
		if host.Priority < current.Priority {
			best = idx
		}
	}
	if best < 0 {
		return s.DefaultURL
	}
	return replaceAuthority(s.DefaultURL, s.Hosts[best].Host)
}

// FailHost flags the host rendering url as failed.
func (s *ServiceURL) FailHost(rawURL string) bool {
	target := hostname(rawURL)
	if target == "" {
		return false
	}
	found := false
	for idx := range s.Hosts {
		if strings.EqualFold(hostname("https://"+s.Hosts[idx].Host), target) {
			s.Hosts[idx].Failed = true
			found = true
		}
	}
	return found
}

func (s *ServiceURL) ResetHosts() {
	for idx := range s.Hosts {
		s.Hosts[idx].Failed = false
	}
}

// Matches reports whether rawURL targets this service, either through the
// default URL or one of the host URLs.
func (s *ServiceURL) Matches(rawURL string) bool {
	candidate := normalizeURL(rawURL)
	if candidate == "" {
		return false
	}
	if prefixMatch(candidate, s.DefaultURL) {
		return true
	}
	for _, host := range s.Hosts {
		if prefixMatch(candidate, replaceAuthority(s.DefaultURL, host.Host)) {
			return true
		}
	}
	return false
}

func prefixMatch(candidate string, base string) bool {
	base = normalizeURL(base)
	if base == "" {
		return false
	}
	if candidate == base {
		return true
	}
	return strings.HasPrefix(candidate, base+"/") || strings.HasPrefix(candidate, base+"?")
}
