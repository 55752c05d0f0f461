// Package catalog maintains the trust-tiered mapping from logical service
// names to concrete endpoint URLs.
//
// A Registry owns every Host announced by discovery and answers filtered
// queries over them. A Catalog groups ServiceURL entries per tier, tracks tier
// readiness and drives the failover algorithm used when an endpoint starts
// returning server errors.
package catalog
