// Package database provides connection management, migrations, the entity
// registry with its key metadata, and the per request UnitOfWork that tracks
// entities and flushes their changes, plus raw queries, server introspection,
// identity reseeding and composite key changes, all built on top of Bun.
package database
