// Package repository provides a generic, transaction-scoped repository on top
// of Bun. A repository runs every operation inside a Session that it either
// owns (opened, committed and closed per call) or borrows from the caller,
// and builds queries from composable filter callbacks.
package repository
