package rbac

import (
	"errors"
	"testing"
)

func buildGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	roles := []Role{
		{Code: "root", Permissions: []string{"base.view"}},
		{Code: "mid", Parents: []string{"root"}, Permissions: []string{"members.view"}},
		{Code: "leaf", Parents: []string{"mid"}, Permissions: []string{"members.edit"}},
	}
	if err := g.Load(roles); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return g
}

func TestGraphLevels(t *testing.T) {
	g := buildGraph(t)
	for code, want := range map[string]int{"root": 0, "mid": 1, "leaf": 2} {
		role, err := g.Role(code)
		if err != nil {
			t.Fatalf("Role(%s): %v", code, err)
		}
		if role.Level != want {
			t.Fatalf("level of %s = %d, want %d", code, role.Level, want)
		}
	}
}

func TestGraphLevelsFanIn(t *testing.T) {
	g := buildGraph(t)
	if err := g.AddRole(Role{Code: "other-root"}); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	// leaf now also inherits from a root; its level stays governed by the
	// deepest parent.
	if err := g.AddEdge("leaf", "other-root"); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	role, err := g.Role("leaf")
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if role.Level != 2 {
		t.Fatalf("leaf level = %d, want 2", role.Level)
	}
}

func TestAddRoleDanglingParentLeavesGraphUnchanged(t *testing.T) {
	g := buildGraph(t)
	err := g.AddRole(Role{Code: "orphan", Parents: []string{"mid", "ghost"}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := g.Role("orphan"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected role still present: %v", err)
	}
	// The code is free to reuse once the parents are valid.
	if err := g.AddRole(Role{Code: "orphan", Parents: []string{"mid"}}); err != nil {
		t.Fatalf("AddRole after fix: %v", err)
	}
	role, err := g.Role("orphan")
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if role.Level != 2 {
		t.Fatalf("orphan level = %d, want 2", role.Level)
	}
}

func TestAddRoleSelfParent(t *testing.T) {
	g := buildGraph(t)
	err := g.AddRole(Role{Code: "loop", Parents: []string{"loop"}})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	if _, err := g.Role("loop"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected role still present: %v", err)
	}
}

func TestGraphCycleSelf(t *testing.T) {
	g := buildGraph(t)
	if err := g.AddEdge("root", "root"); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestGraphCycleTransitive(t *testing.T) {
	g := buildGraph(t)
	err := g.AddEdge("root", "leaf")
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	// The rejected edge must leave the graph unchanged.
	role, err := g.Role("root")
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if len(role.Parents) != 0 {
		t.Fatalf("root gained parents after rejected edge: %v", role.Parents)
	}
	if role.Level != 0 {
		t.Fatalf("root level changed after rejected edge: %d", role.Level)
	}
}

func TestGraphLoadRejectsCycle(t *testing.T) {
	g := NewGraph()
	err := g.Load([]Role{
		{Code: "a", Parents: []string{"b"}},
		{Code: "b", Parents: []string{"a"}},
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestGraphLoadRejectsDanglingParent(t *testing.T) {
	g := NewGraph()
	err := g.Load([]Role{{Code: "a", Parents: []string{"ghost"}}})
	if !errors.Is(err, ErrCorruptHierarchy) {
		t.Fatalf("expected ErrCorruptHierarchy, got %v", err)
	}
}

func TestEffectivePermissionsSuperset(t *testing.T) {
	g := buildGraph(t)

	leafPerms, err := g.EffectivePermissions("leaf")
	if err != nil {
		t.Fatalf("EffectivePermissions(leaf): %v", err)
	}
	for _, ancestor := range []string{"mid", "root"} {
		ancestorPerms, err := g.EffectivePermissions(ancestor)
		if err != nil {
			t.Fatalf("EffectivePermissions(%s): %v", ancestor, err)
		}
		for _, p := range ancestorPerms {
			if !containsString(leafPerms, p) {
				t.Fatalf("leaf is missing inherited permission %s", p)
			}
		}
	}
	if !containsString(leafPerms, "members.edit") {
		t.Fatalf("leaf is missing its direct permission: %v", leafPerms)
	}
}

func TestEffectivePermissionsUnknownRole(t *testing.T) {
	g := buildGraph(t)
	if _, err := g.EffectivePermissions("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCanAssignByLevel(t *testing.T) {
	g := buildGraph(t)

	// root (level 0) may assign anything; leaf (level 2) may not assign mid.
	ok, err := g.CanAssign([]string{"root"}, "leaf")
	if err != nil || !ok {
		t.Fatalf("root should assign leaf: ok=%v err=%v", ok, err)
	}
	ok, err = g.CanAssign([]string{"leaf"}, "mid")
	if err != nil || ok {
		t.Fatalf("leaf must not assign mid: ok=%v err=%v", ok, err)
	}
	// Equal level is allowed.
	ok, err = g.CanAssign([]string{"mid"}, "mid")
	if err != nil || !ok {
		t.Fatalf("mid should assign mid: ok=%v err=%v", ok, err)
	}
}

func TestCanAssignByOverride(t *testing.T) {
	g := buildGraph(t)
	if err := g.AddRole(Role{Code: "delegate", Parents: []string{"leaf"}, Permissions: []string{PermRoleAssignAny}}); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	// delegate sits at level 3, far below mid, but holds the override.
	ok, err := g.CanAssign([]string{"delegate"}, "mid")
	if err != nil || !ok {
		t.Fatalf("override permission should permit assignment: ok=%v err=%v", ok, err)
	}
}

func TestRemoveEdgeRecomputesLevels(t *testing.T) {
	g := buildGraph(t)
	if err := g.RemoveEdge("leaf", "mid"); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	role, err := g.Role("leaf")
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if role.Level != 0 {
		t.Fatalf("leaf level after edge removal = %d, want 0", role.Level)
	}
	perms, err := g.EffectivePermissions("leaf")
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if containsString(perms, "base.view") {
		t.Fatalf("leaf kept inherited permission after edge removal: %v", perms)
	}
}

func TestRemoveRoleDetachesChildren(t *testing.T) {
	g := buildGraph(t)
	if err := g.RemoveRole("mid"); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}
	role, err := g.Role("leaf")
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if len(role.Parents) != 0 {
		t.Fatalf("leaf still references removed parent: %v", role.Parents)
	}
	if _, err := g.Role("mid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for removed role, got %v", err)
	}
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
