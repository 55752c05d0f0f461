// Package credentials manages the bearer credential lifecycle: the full-scope
// supertoken, downscoped child tokens, randomized refresh scheduling and
// single-flight deduplication of refresh and downscope exchanges.
package credentials
