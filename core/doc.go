// Package core contains the contracts shared by every foundation component:
// configuration, the error taxonomy, logger and metrics contracts, the request
// descriptor that flows through the interceptor pipeline and the key/value
// store used to persist credentials. Higher level packages (catalog,
// credentials, interceptors, transport) depend on core; core must not depend
// on any of them.
package core
