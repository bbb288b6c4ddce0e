package rbac

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Graph is the in-memory role hierarchy. Edges point from a role to the
// parents it inherits permissions from; the structure is a DAG, never a
// tree (fan-in is allowed) and never cyclic (validated on every edge
// change). Hierarchy levels are cached and recomputed synchronously on
// structural change; reads share the cached values under a read lock so
// they always observe a fully-updated hierarchy.
type Graph struct {
	mu    sync.RWMutex
	roles map[string]*roleNode
}

type roleNode struct {
	role     Role
	children map[string]struct{}
}

// NewGraph returns an empty role graph.
func NewGraph() *Graph {
	return &Graph{roles: make(map[string]*roleNode)}
}

// Load replaces the graph contents with the given roles, recomputing every
// level. It fails with ErrCycleDetected if the stored parent references
// contain a cycle, leaving the previous contents untouched.
func (g *Graph) Load(roles []Role) error {
	next := make(map[string]*roleNode, len(roles))
	for _, r := range roles {
		if r.Code == "" {
			return fmt.Errorf("%w: role code is required", ErrInvalidInput)
		}
		if _, ok := next[r.Code]; ok {
			return fmt.Errorf("%w: duplicate role %s", ErrInvalidInput, r.Code)
		}
		node := &roleNode{role: r, children: make(map[string]struct{})}
		next[r.Code] = node
	}
	for code, node := range next {
		for _, parent := range node.role.Parents {
			p, ok := next[parent]
			if !ok {
				return fmt.Errorf("%w: role %s references missing parent %s", ErrCorruptHierarchy, code, parent)
			}
			p.children[code] = struct{}{}
		}
	}
	if err := checkAcyclic(next); err != nil {
		return err
	}
	recomputeLevels(next)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.roles = next
	return nil
}

// AddRole inserts a role together with its declared parent edges. All
// parents are validated before anything is committed, under one exclusive
// lock, so a failed insert leaves the graph exactly as it was. A fresh
// role has no children, so its parent edges cannot close a cycle; only a
// self-reference needs rejecting.
func (g *Graph) AddRole(role Role) error {
	if role.Code == "" {
		return fmt.Errorf("%w: role code is required", ErrInvalidInput)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.roles[role.Code]; ok {
		return fmt.Errorf("%w: role %s already exists", ErrInvalidInput, role.Code)
	}

	parents := make([]string, 0, len(role.Parents))
	seen := make(map[string]struct{}, len(role.Parents))
	for _, parent := range role.Parents {
		if parent == role.Code {
			return fmt.Errorf("%w: %s cannot inherit from itself", ErrCycleDetected, role.Code)
		}
		if _, ok := g.roles[parent]; !ok {
			return fmt.Errorf("%w: parent %s", ErrNotFound, parent)
		}
		if _, dup := seen[parent]; dup {
			continue
		}
		seen[parent] = struct{}{}
		parents = append(parents, parent)
	}

	role.Parents = parents
	g.roles[role.Code] = &roleNode{role: role, children: make(map[string]struct{})}
	for _, parent := range parents {
		g.roles[parent].children[role.Code] = struct{}{}
	}
	recomputeLevels(g.roles)
	return nil
}

// RemoveRole deletes the role and all edges touching it, then recomputes
// descendant levels.
func (g *Graph) RemoveRole(code string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.roles[code]
	if !ok {
		return ErrNotFound
	}
	for _, parent := range node.role.Parents {
		if p, ok := g.roles[parent]; ok {
			delete(p.children, code)
		}
	}
	for child := range node.children {
		if c, ok := g.roles[child]; ok {
			c.role.Parents = removeString(c.role.Parents, code)
		}
	}
	delete(g.roles, code)
	recomputeLevels(g.roles)
	return nil
}

// AddEdge makes role inherit from parent. It fails with ErrCycleDetected
// if parent is already a descendant of role; the cycle check and the edge
// commit happen under one exclusive lock so concurrent insertions cannot
// race an undetected cycle in. On success the affected subtree's levels
// are recomputed breadth-first.
func (g *Graph) AddEdge(role, parent string) error {
	if role == parent {
		return fmt.Errorf("%w: %s cannot inherit from itself", ErrCycleDetected, role)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	child, ok := g.roles[role]
	if !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, role)
	}
	p, ok := g.roles[parent]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNotFound, parent)
	}
	for _, existing := range child.role.Parents {
		if existing == parent {
			return nil
		}
	}
	reachable, err := g.descendantsLocked(role)
	if err != nil {
		return err
	}
	if _, cyclic := reachable[parent]; cyclic {
		return fmt.Errorf("%w: %s is a descendant of %s", ErrCycleDetected, parent, role)
	}

	child.role.Parents = append(child.role.Parents, parent)
	p.children[role] = struct{}{}
	recomputeLevels(g.roles)
	return nil
}

// RemoveEdge drops the role→parent edge and recomputes levels.
func (g *Graph) RemoveEdge(role, parent string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	child, ok := g.roles[role]
	if !ok {
		return fmt.Errorf("%w: role %s", ErrNotFound, role)
	}
	before := len(child.role.Parents)
	child.role.Parents = removeString(child.role.Parents, parent)
	if len(child.role.Parents) == before {
		return fmt.Errorf("%w: edge %s -> %s", ErrNotFound, role, parent)
	}
	if p, ok := g.roles[parent]; ok {
		delete(p.children, role)
	}
	recomputeLevels(g.roles)
	return nil
}

// SetPermissions replaces the role's directly-granted permission set.
func (g *Graph) SetPermissions(code string, perms []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.roles[code]
	if !ok {
		return ErrNotFound
	}
	node.role.Permissions = append([]string(nil), perms...)
	return nil
}

// Role returns a copy of the stored role.
func (g *Graph) Role(code string) (Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.roles[code]
	if !ok {
		return Role{}, ErrNotFound
	}
	return node.copyRole(), nil
}

// Roles returns every role, sorted by level then code.
func (g *Graph) Roles() []Role {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Role, 0, len(g.roles))
	for _, node := range g.roles {
		out = append(out, node.copyRole())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// EffectivePermissions returns the union of the role's direct permissions
// and those of every ancestor, sorted. Cycles are structurally impossible,
// but the walk still carries a visited set and fails with
// ErrCorruptHierarchy on a dangling parent reference instead of looping.
func (g *Graph) EffectivePermissions(code string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start, ok := g.roles[code]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, code)
	}

	perms := make(map[string]struct{})
	visited := make(map[string]struct{})
	queue := []*roleNode{start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if _, seen := visited[node.role.Code]; seen {
			continue
		}
		visited[node.role.Code] = struct{}{}
		if len(visited) > len(g.roles) {
			return nil, fmt.Errorf("%w: traversal exceeded role count", ErrCorruptHierarchy)
		}
		for _, p := range node.role.Permissions {
			perms[p] = struct{}{}
		}
		for _, parent := range node.role.Parents {
			pn, ok := g.roles[parent]
			if !ok {
				return nil, fmt.Errorf("%w: role %s references missing parent %s", ErrCorruptHierarchy, node.role.Code, parent)
			}
			queue = append(queue, pn)
		}
	}

	out := make([]string, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// CanAssign reports whether a principal holding assignerRoles may assign
// the target role: either one of their roles sits at a hierarchy level
// numerically at or above the target's (lower number = higher authority),
// or one of their roles grants the blanket override permission.
func (g *Graph) CanAssign(assignerRoles []string, target string) (bool, error) {
	levelOK, err := g.levelPermits(assignerRoles, target)
	if err != nil {
		return false, err
	}
	if levelOK {
		return true, nil
	}
	return g.HasPermission(assignerRoles, PermRoleAssignAny)
}

func (g *Graph) levelPermits(assignerRoles []string, target string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	targetNode, ok := g.roles[target]
	if !ok {
		return false, fmt.Errorf("%w: role %s", ErrNotFound, target)
	}
	for _, code := range assignerRoles {
		if node, ok := g.roles[code]; ok && node.role.Level <= targetNode.role.Level {
			return true, nil
		}
	}
	return false, nil
}

// HasPermission reports whether any of the given roles grants the
// permission, directly or by inheritance.
func (g *Graph) HasPermission(roleCodes []string, perm string) (bool, error) {
	for _, code := range roleCodes {
		perms, err := g.EffectivePermissions(code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return false, err
		}
		for _, p := range perms {
			if p == perm {
				return true, nil
			}
		}
	}
	return false, nil
}

func (n *roleNode) copyRole() Role {
	r := n.role
	r.Permissions = append([]string(nil), n.role.Permissions...)
	r.Parents = append([]string(nil), n.role.Parents...)
	return r
}

// descendantsLocked walks children transitively. Caller holds the lock.
func (g *Graph) descendantsLocked(code string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	queue := []string{code}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node, ok := g.roles[current]
		if !ok {
			return nil, fmt.Errorf("%w: role %s vanished mid-walk", ErrCorruptHierarchy, current)
		}
		for child := range node.children {
			if _, seen := out[child]; seen {
				continue
			}
			out[child] = struct{}{}
			queue = append(queue, child)
		}
		if len(out) > len(g.roles) {
			return nil, fmt.Errorf("%w: traversal exceeded role count", ErrCorruptHierarchy)
		}
	}
	return out, nil
}

// recomputeLevels walks the graph breadth-first from the roots. A role's
// level is one more than its deepest parent; roots sit at level zero.
func recomputeLevels(roles map[string]*roleNode) {
	remaining := make(map[string]int, len(roles))
	var queue []string
	for code, node := range roles {
		remaining[code] = len(node.role.Parents)
		node.role.Level = 0
		if remaining[code] == 0 {
			queue = append(queue, code)
		}
	}
	sort.Strings(queue)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node := roles[current]
		for child := range node.children {
			c := roles[child]
			if node.role.Level+1 > c.role.Level {
				c.role.Level = node.role.Level + 1
			}
			remaining[child]--
			if remaining[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
}

// checkAcyclic verifies the loaded parent graph contains no cycle.
func checkAcyclic(roles map[string]*roleNode) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(roles))
	var visit func(code string) error
	visit = func(code string) error {
		switch state[code] {
		case visiting:
			return fmt.Errorf("%w: cycle through %s", ErrCycleDetected, code)
		case done:
			return nil
		}
		state[code] = visiting
		for _, parent := range roles[code].role.Parents {
			if err := visit(parent); err != nil {
				return err
			}
		}
		state[code] = done
		return nil
	}
	for code := range roles {
		if err := visit(code); err != nil {
			return err
		}
	}
	return nil
}

func removeString(list []string, value string) []string {
	out := list[:0]
	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}
