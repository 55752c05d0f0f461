package catalog

const (
	locusDefault = "https://locus-a.wbx2.com/locus/api/v1"
	locusP1      = "https://locus-a1.wbx2.com/locus/api/v1"
	locusP2      = "https://locus-a2.wbx2.com/locus/api/v1"
	convDefault  = "https://conv-a.wbx2.com/conversation/api/v1"
)

func locusPayload() DiscoveryPayload {
	remote := false
	return DiscoveryPayload{
		ServiceLinks: map[string]string{
			"locus":        locusDefault,
			"conversation": convDefault,
		},
		HostCatalog: map[string][]DiscoveryHost{
			"locus-a.wbx2.com": {
				{ID: "urn:TEAM:us-east-2_a:locus", Priority: 1, Host: "locus-a1.wbx2.com"},
				{ID: "urn:TEAM:us-east-2_a:locus", Priority: 2, Host: "locus-a2.wbx2.com"},
			},
			"conv-a.wbx2.com": {
				{ID: "urn:TEAM:us-east-2_a:conversation", Priority: 5, Host: "conv-a.wbx2.com"},
				{ID: "urn:TEAM:eu-central-1_k:conversation", Priority: 1, Host: "conv-k.wbx2.com", HomeCluster: &remote},
			},
		},
	}
}

func mixedHosts() []Host {
	return []Host{
		{CatalogTier: TierPostAuth, DefaultURI: locusDefault, Address: "locus-a1.wbx2.com", HostGroup: "g1", ClusterID: "urn:TEAM:a:locus", Priority: 1, HomeCluster: true},
		{CatalogTier: TierPostAuth, DefaultURI: locusDefault, Address: "locus-a2.wbx2.com", HostGroup: "g1", ClusterID: "urn:TEAM:a:locus", Priority: 2, HomeCluster: true, Failed: true},
		{CatalogTier: TierPreAuth, DefaultURI: locusDefault, Address: "locus-p.wbx2.com", HostGroup: "g1", ClusterID: "urn:TEAM:a:locus", Priority: 0, HomeCluster: true},
		{CatalogTier: TierPostAuth, DefaultURI: convDefault, Address: "conv-a.wbx2.com", HostGroup: "g2", ClusterID: "urn:TEAM:a:conversation", Priority: 3, HomeCluster: true},
		{CatalogTier: TierPostAuth, DefaultURI: convDefault, Address: "conv-k.wbx2.com", HostGroup: "g2", ClusterID: "urn:TEAM:k:conversation", Priority: 1, Replaced: true},
		{CatalogTier: TierSignin, DefaultURI: convDefault, Address: "conv-s.wbx2.com", HostGroup: "g3", ClusterID: "urn:TEAM:k:conversation", Priority: 2},
		{CatalogTier: TierOverride, DefaultURI: "https://wdm-a.wbx2.com/wdm/api/v1", Address: "wdm-o.wbx2.com", HostGroup: "g4", ClusterID: "urn:TEAM:a:wdm", Priority: 9, HomeCluster: true},
	}
}

func loadMixed(registry *Registry) {
	for _, host := range mixedHosts() {
		if _, err := registry.Load(host.CatalogTier, host); err != nil {
			panic(err)
		}
	}
}
