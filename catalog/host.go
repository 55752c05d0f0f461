package catalog

import (
	"net/url"
	"strings"
)

// Host is one candidate endpoint for a logical service within one tier.
type Host struct {
	CatalogTier Tier
	DefaultURI  string
	// Address replaces the authority of DefaultURI when rendering URL.
	Address     string
	HostGroup   string
	ClusterID   string
	Priority    int
	HomeCluster bool
	Failed      bool
	Replaced    bool
}

func (h Host) Active() bool {
	return !h.Failed && !h.Replaced
}

// Local reports membership in the caller's home cluster.
func (h Host) Local() bool {
	return h.HomeCluster
}

// ServiceName is the last segment of the cluster id.
func (h Host) ServiceName() string {
	return ServiceNameFromClusterID(h.ClusterID)
}

func (h Host) URL() string {
	return replaceAuthority(h.DefaultURI, h.Address)
}

func (h Host) identity() string {
	return string(h.CatalogTier) + "|" + h.ClusterID + "|" + normalizeURL(h.URL())
}

// better reports whether h wins over other in priority selection.
func (h Host) better(other Host) bool {
	if h.CatalogTier.Rank() != other.CatalogTier.Rank() {
		return h.CatalogTier.Rank() < other.CatalogTier.Rank()
	}
	return h.Priority < other.Priority
}

// ServiceNameFromClusterID extracts the service from a
// head:group:cluster:service identifier.
func ServiceNameFromClusterID(clusterID string) string {
	clusterID = strings.TrimSpace(clusterID)
	if clusterID == "" {
		return ""
	}
	idx := strings.LastIndex(clusterID, ":")
	return clusterID[idx+1:]
}

func replaceAuthority(rawURL string, address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return rawURL
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	parsed.Host = address
	return parsed.String()
}

func normalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func hostname(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
