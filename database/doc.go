// Package database provides the connection source for transaction-scoped
// repositories: configuration, the pooled SessionFactory built on Bun,
// Sessions, entity descriptors and namespace scanning, typed errors,
// query hooks, logging and pool metrics.
package database
