// Package keel provides the generic service family used by concrete domain
// services: single key, composite key and simple variants sharing one
// read, paginate, write and raw query contract. Services find their unit of
// work in the request context and never open their own transaction.
package keel
