package registry

import (
	"errors"
	"testing"

	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"go.uber.org/zap"
)

func testManifest(name string) domain.AgentManifest {
	return domain.AgentManifest{
		Name:   name,
		Module: "builtin:chat",
		Resources: domain.ResourceLimits{
			MaxLLMTokensPerHour: 1000,
			MaxConcurrentTools:  3,
		},
	}
}

func TestSpawnVisibleAsRunning(t *testing.T) {
	r := New(zap.NewNop())
	entry, err := r.Spawn(testManifest("worker"), "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if entry.State != domain.StateRunning {
		t.Errorf("state = %s, want running", entry.State)
	}
	if entry.ID == "" {
		t.Error("empty agent id")
	}

	got, ok := r.Get(entry.ID)
	if !ok || got.State != domain.StateRunning {
		t.Errorf("Get after spawn: ok=%v state=%v", ok, got)
	}
}

func TestSpawnWithParent(t *testing.T) {
	r := New(zap.NewNop())
	parent, _ := r.Spawn(testManifest("parent"), "")
	child, err := r.Spawn(testManifest("child"), parent.ID)
	if err != nil {
		t.Fatalf("Spawn child: %v", err)
	}
	if child.Parent != parent.ID {
		t.Errorf("child.Parent = %q", child.Parent)
	}

	p, _ := r.Get(parent.ID)
	if len(p.Children) != 1 || p.Children[0] != child.ID {
		t.Errorf("parent.Children = %v", p.Children)
	}

	if _, err := r.Spawn(testManifest("orphan"), "no-such-id"); !errors.Is(err, ErrParentNotFound) {
		t.Errorf("spawn under missing parent: %v", err)
	}
}

func TestKillIsTerminalAndIdempotentAsNotFound(t *testing.T) {
	r := New(zap.NewNop())
	entry, _ := r.Spawn(testManifest("victim"), "")

	killed, err := r.Kill(entry.ID)
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if killed.State != domain.StateKilled {
		t.Errorf("state = %s", killed.State)
	}

	// Повторный kill — NotFound, не паника и не двойное освобождение
	if _, err := r.Kill(entry.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second kill: %v", err)
	}
	if _, ok := r.Get(entry.ID); ok {
		t.Error("killed agent still visible in live set")
	}
	if _, err := r.Transition(entry.ID, domain.StateRunning); !errors.Is(err, ErrNotFound) {
		t.Errorf("transition on killed agent: %v", err)
	}
}

func TestKillOrphansChildren(t *testing.T) {
	r := New(zap.NewNop())
	parent, _ := r.Spawn(testManifest("parent"), "")
	child, _ := r.Spawn(testManifest("child"), parent.ID)

	if _, err := r.Kill(parent.ID); err != nil {
		t.Fatal(err)
	}

	// Ребенок жив, но стал корневым
	got, ok := r.Get(child.ID)
	if !ok {
		t.Fatal("child died with parent")
	}
	if got.Parent != "" {
		t.Errorf("child.Parent = %q, want orphaned", got.Parent)
	}
	if got.State != domain.StateRunning {
		t.Errorf("child state = %s", got.State)
	}
}

func TestTransitions(t *testing.T) {
	r := New(zap.NewNop())
	entry, _ := r.Spawn(testManifest("w"), "")

	if _, err := r.Transition(entry.ID, domain.StatePaused); err != nil {
		t.Fatalf("running->paused: %v", err)
	}
	if _, err := r.Transition(entry.ID, domain.StateRunning); err != nil {
		t.Fatalf("paused->running: %v", err)
	}
	if _, err := r.Transition(entry.ID, domain.StateErrored); err != nil {
		t.Fatalf("running->errored: %v", err)
	}
	if _, err := r.Transition(entry.ID, domain.StatePaused); err == nil {
		t.Fatal("errored->paused must be rejected")
	}
	if _, err := r.Transition(entry.ID, domain.StateRunning); err != nil {
		t.Fatalf("errored->running recovery: %v", err)
	}
}

func TestListSortedCopies(t *testing.T) {
	r := New(zap.NewNop())
	if got := r.List(); got == nil || len(got) != 0 {
		t.Fatalf("empty registry List = %v, want empty non-nil slice", got)
	}

	a, _ := r.Spawn(testManifest("a"), "")
	b, _ := r.Spawn(testManifest("b"), "")

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("len = %d", len(list))
	}

	// Наружу уходят копии: мутация результата не видна реестру
	list[0].Name = "mutated"
	list[0].Manifest.Capabilities.Tools = append(list[0].Manifest.Capabilities.Tools, "shell_exec")
	orig, _ := r.Get(list[0].ID)
	if orig.Name == "mutated" || len(orig.Manifest.Capabilities.Tools) != 0 {
		t.Error("List leaked a mutable reference into the registry")
	}

	_ = a
	_ = b
	if r.Count() != 2 {
		t.Errorf("Count = %d", r.Count())
	}
}

func TestReplaceManifest(t *testing.T) {
	r := New(zap.NewNop())
	entry, _ := r.Spawn(testManifest("old-name"), "")

	next := testManifest("new-name")
	next.Capabilities.Tools = []string{"web_fetch"}
	updated, err := r.ReplaceManifest(entry.ID, next)
	if err != nil {
		t.Fatalf("ReplaceManifest: %v", err)
	}
	if updated.Name != "new-name" || len(updated.Manifest.Capabilities.Tools) != 1 {
		t.Errorf("manifest not replaced: %+v", updated)
	}
	if updated.State != domain.StateRunning {
		t.Errorf("state changed by manifest replace: %s", updated.State)
	}
}
