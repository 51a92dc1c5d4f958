package rbac

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type roleDef struct {
	exact     map[string]struct{}
	wildcards []string // prefixes without the trailing "*", longest first
	version   uint32
}

type resolvedSet struct {
	fingerprint string
	exact       map[string]struct{}
	wildcards   []string
}

// Evaluator resolves a principal's effective permissions from assigned roles
// and evaluates access checks. Role definitions may be replaced at runtime
// (administrative action); the per-role-set resolution cache is keyed by role
// versions and recomputes as soon as any member role changes.
type Evaluator struct {
	catalog *Catalog

	mu    sync.RWMutex
	roles map[string]*roleDef
	cache map[string]*resolvedSet
}

// NewEvaluator creates an [Evaluator] over the given catalog.
func NewEvaluator(catalog *Catalog) *Evaluator {
	return &Evaluator{
		catalog: catalog,
		roles:   make(map[string]*roleDef),
		cache:   make(map[string]*resolvedSet),
	}
}

// DefineRole sets the permission set for a role. Every permission must be
// registered in the catalog. Redefining an existing role bumps its version,
// which invalidates cached resolutions containing it.
func (e *Evaluator) DefineRole(name string, permissions []string) error {
	if name == "" {
		return errors.New("role name cannot be empty")
	}

	def := &roleDef{exact: make(map[string]struct{}, len(permissions))}
	for _, perm := range permissions {
		if !e.catalog.Has(perm) {
			return errors.New("permission not in catalog: " + perm)
		}
		if strings.HasSuffix(perm, ":*") {
			def.wildcards = append(def.wildcards, strings.TrimSuffix(perm, "*"))
		} else {
			def.exact[perm] = struct{}{}
		}
	}
	sort.Slice(def.wildcards, func(i, j int) bool {
		return len(def.wildcards[i]) > len(def.wildcards[j])
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.roles[name]; ok {
		def.version = prev.version + 1
	} else {
		def.version = 1
	}
	e.roles[name] = def
	return nil
}

// RoleVersion returns the current version of a role definition.
func (e *Evaluator) RoleVersion(name string) (uint32, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.roles[name]
	if !ok {
		return 0, false
	}
	return def.version, true
}

// Authorize reports whether the union of the roles' permission sets grants
// the permission. Unknown roles contribute nothing; an unregistered
// permission is denied. Authorize never returns an error — evaluation is
// deterministic and total, and denial is the default.
func (e *Evaluator) Authorize(roles []string, permission string) bool {
	if permission == "" || len(roles) == 0 {
		return false
	}

	set := e.resolve(roles)
	if set == nil {
		return false
	}
	if _, ok := set.exact[permission]; ok {
		return true
	}
	// Wildcards are sorted longest first, so the first hit is the
	// longest-prefix match.
	for _, prefix := range set.wildcards {
		if strings.HasPrefix(permission, prefix) {
			return true
		}
	}
	return false
}

// Permissions returns the sorted effective permission identifiers for the
// role set, wildcard grants included verbatim. Intended for introspection,
// not hot-path checks.
func (e *Evaluator) Permissions(roles []string) []string {
	set := e.resolve(roles)
	if set == nil {
		return nil
	}

	out := make([]string, 0, len(set.exact)+len(set.wildcards))
	for perm := range set.exact {
		out = append(out, perm)
	}
	for _, prefix := range set.wildcards {
		out = append(out, prefix+"*")
	}
	sort.Strings(out)
	return out
}

func (e *Evaluator) resolve(roles []string) *resolvedSet {
	roles = canonicalRoles(roles)
	key := strings.Join(roles, "\x00")

	e.mu.RLock()
	cached, hit := e.cache[key]
	fp := e.fingerprintLocked(roles)
	e.mu.RUnlock()

	if hit && cached.fingerprint == fp {
		return cached
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Recheck under the write lock; another goroutine may have recomputed.
	fp = e.fingerprintLocked(roles)
	if cached, hit = e.cache[key]; hit && cached.fingerprint == fp {
		return cached
	}

	set := &resolvedSet{
		fingerprint: fp,
		exact:       make(map[string]struct{}),
	}
	seen := make(map[string]struct{})
	for _, role := range roles {
		def, ok := e.roles[role]
		if !ok {
			continue
		}
		for perm := range def.exact {
			set.exact[perm] = struct{}{}
		}
		for _, prefix := range def.wildcards {
			if _, dup := seen[prefix]; !dup {
				seen[prefix] = struct{}{}
				set.wildcards = append(set.wildcards, prefix)
			}
		}
	}
	sort.Slice(set.wildcards, func(i, j int) bool {
		return len(set.wildcards[i]) > len(set.wildcards[j])
	})

	e.cache[key] = set
	return set
}

// fingerprintLocked encodes the versions of the named roles; any role
// redefinition changes the fingerprint. Callers hold at least a read lock.
func (e *Evaluator) fingerprintLocked(roles []string) string {
	var b strings.Builder
	for _, role := range roles {
		if def, ok := e.roles[role]; ok {
			b.WriteString(strconv.FormatUint(uint64(def.version), 10))
		} else {
			b.WriteByte('-')
		}
		b.WriteByte(';')
	}
	return b.String()
}

func canonicalRoles(roles []string) []string {
	if len(roles) == 1 {
		return roles
	}
	sorted := make([]string, len(roles))
	copy(sorted, roles)
	sort.Strings(sorted)
	return sorted
}
