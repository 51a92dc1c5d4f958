// Package rbac resolves role-based permissions and evaluates access checks.
//
// Permissions are opaque string identifiers registered in an explicit
// [Catalog]; roles are named sets of registered permissions. Resolution
// expands a principal's roles to the union of their permission sets, cached
// per role-set until any member role's version changes.
//
// Denial is the default: a permission not explicitly granted — including one
// never registered — evaluates to denied, never to an error. Wildcard grants
// exist only when a catalog entry ends in ":*"; matching is longest-prefix.
package rbac
