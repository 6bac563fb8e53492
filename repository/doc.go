// Package repository provides a generic repository bound to a unit of work,
// the pagination engine, whitelist based dynamic ordering and dialect aware
// upsert support, built on Bun.
package repository
