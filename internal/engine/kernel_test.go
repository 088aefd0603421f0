package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xela07ax/agentos-kernel-prototype/internal/capability"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"github.com/xela07ax/agentos-kernel-prototype/internal/ledger"
	"github.com/xela07ax/agentos-kernel-prototype/internal/quota"
	"github.com/xela07ax/agentos-kernel-prototype/internal/registry"
	"github.com/xela07ax/agentos-kernel-prototype/internal/trigger"
	"go.uber.org/zap"
)

// echoExecutor — исполнитель-заглушка без внешних зависимостей.
type echoExecutor struct {
	calls int
	fail  error
}

func (e *echoExecutor) Call(ctx context.Context, tool string, payload []byte) ([]byte, error) {
	e.calls++
	if e.fail != nil {
		return nil, e.fail
	}
	return []byte("ok:" + tool), nil
}

const kernelTestManifest = `
name = "researcher"
version = "1.0.0"
module = "builtin:chat"

[resources]
max_llm_tokens_per_hour = 1000
max_concurrent_tools = 2

[capabilities]
tools = ["web_fetch", "agent.prompt"]
memory_read = ["notes/*"]
`

func newTestKernel(t *testing.T, policy *SystemPolicy) (*Kernel, *ledger.Ledger, *echoExecutor) {
	t.Helper()
	nop := zap.NewNop()
	ldg := ledger.New(nop)
	exec := &echoExecutor{}
	k := NewKernel(
		registry.New(nop),
		quota.NewMeter(time.Hour),
		ldg,
		trigger.NewScheduler(ldg, nop),
		exec,
		policy,
		nil, // сигналы наружу в тестах не нужны
		NewMetrics(nil),
		nop,
	)
	return k, ldg, exec
}

func TestSpawnInvokeDenyScenario(t *testing.T) {
	k, ldg, exec := newTestKernel(t, nil)
	ctx := context.Background()

	entry, err := k.SpawnAgent(ctx, kernelTestManifest, nil, "")
	if err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	if entry.State != domain.StateRunning {
		t.Fatalf("state = %s", entry.State)
	}

	// Разрешенный тул проходит и аудируется
	resp, err := k.InvokeTool(ctx, entry.ID, "web_fetch", []byte("GET /"), 10)
	if err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	if string(resp) != "ok:web_fetch" || exec.calls != 1 {
		t.Errorf("resp=%q calls=%d", resp, exec.calls)
	}

	// Недекларированный тул — deny and record, не процессная ошибка
	_, err = k.InvokeTool(ctx, entry.ID, "shell_exec", nil, 10)
	var denied *capability.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if exec.calls != 1 {
		t.Error("denied tool reached the executor")
	}

	denials := ldg.Query(ledger.Filter{Action: ledger.ActionCapabilityDenied, AgentID: entry.ID})
	if len(denials) != 1 || !strings.Contains(denials[0].Detail, "shell_exec") {
		t.Fatalf("denial audit missing or wrong: %+v", denials)
	}

	// Итог цепочки: spawn + tool_invoke + capability_denied, все верифицируемо
	if got := len(ldg.Query(ledger.Filter{})); got != 3 {
		t.Errorf("chain length = %d, want 3", got)
	}
	if err := ldg.VerifyChain(); err != nil {
		t.Fatalf("chain broken: %v", err)
	}
}

func TestInvokeQuotaExhaustion(t *testing.T) {
	k, ldg, _ := newTestKernel(t, nil)
	ctx := context.Background()
	entry, _ := k.SpawnAgent(ctx, kernelTestManifest, nil, "")

	if _, err := k.InvokeTool(ctx, entry.ID, "web_fetch", nil, 1000); err != nil {
		t.Fatalf("in-limit invoke: %v", err)
	}

	_, err := k.InvokeTool(ctx, entry.ID, "web_fetch", nil, 1)
	var exceeded *quota.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError, got %v", err)
	}
	if got := len(ldg.Query(ledger.Filter{Action: ledger.ActionQuotaExceeded})); got != 1 {
		t.Errorf("quota_exceeded entries = %d", got)
	}
}

func TestKillAgentTerminal(t *testing.T) {
	k, ldg, _ := newTestKernel(t, nil)
	ctx := context.Background()
	entry, _ := k.SpawnAgent(ctx, kernelTestManifest, nil, "")

	if err := k.KillAgent(ctx, entry.ID); err != nil {
		t.Fatalf("KillAgent: %v", err)
	}
	if err := k.KillAgent(ctx, entry.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("second kill: %v", err)
	}
	if _, err := k.InvokeTool(ctx, entry.ID, "web_fetch", nil, 1); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("invoke on killed: %v", err)
	}
	if got := len(ldg.Query(ledger.Filter{Action: ledger.ActionAgentKill})); got != 1 {
		t.Errorf("agent_kill entries = %d", got)
	}
}

func TestPausedAgentCannotInvoke(t *testing.T) {
	k, _, _ := newTestKernel(t, nil)
	ctx := context.Background()
	entry, _ := k.SpawnAgent(ctx, kernelTestManifest, nil, "")

	if err := k.SetAgentState(ctx, entry.ID, domain.StatePaused); err != nil {
		t.Fatal(err)
	}
	if _, err := k.InvokeTool(ctx, entry.ID, "web_fetch", nil, 1); !errors.Is(err, ErrAgentNotRunning) {
		t.Fatalf("invoke while paused: %v", err)
	}

	if err := k.SetAgentState(ctx, entry.ID, domain.StateRunning); err != nil {
		t.Fatal(err)
	}
	if _, err := k.InvokeTool(ctx, entry.ID, "web_fetch", nil, 1); err != nil {
		t.Fatalf("invoke after resume: %v", err)
	}
}

func TestSystemPolicyRejectsSpawn(t *testing.T) {
	policy := &SystemPolicy{AllowedTools: []string{"memory.search"}}
	k, _, _ := newTestKernel(t, policy)

	_, err := k.SpawnAgent(context.Background(), kernelTestManifest, nil, "")
	var violation *PolicyViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected PolicyViolationError, got %v", err)
	}
	if k.Registry().Count() != 0 {
		t.Error("rejected spawn mutated the registry")
	}
}

func TestRequireSignedRejectsBareManifest(t *testing.T) {
	k, _, _ := newTestKernel(t, &SystemPolicy{RequireSigned: true})

	_, err := k.SpawnAgent(context.Background(), kernelTestManifest, nil, "")
	var violation *PolicyViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected PolicyViolationError, got %v", err)
	}
}

func TestWebhookFiresThroughPipeline(t *testing.T) {
	k, ldg, exec := newTestKernel(t, nil)
	ctx := context.Background()
	entry, _ := k.SpawnAgent(ctx, kernelTestManifest, nil, "")

	_, err := k.Triggers().Register(domain.TriggerDefinition{
		AgentID: entry.ID,
		Kind:    domain.PatternWebhook,
		Param:   "hook-token",
		Prompt:  "summarize the incoming webhook",
		Enabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if fired := k.HandleWebhook(ctx, "hook-token"); fired != 1 {
		t.Fatalf("fired = %d", fired)
	}
	if fired := k.HandleWebhook(ctx, "bad-token"); fired != 0 {
		t.Fatalf("bad token fired %d", fired)
	}

	// Действие прошло полный пайплайн: trigger_fire + tool_invoke(agent.prompt)
	if exec.calls != 1 {
		t.Errorf("executor calls = %d", exec.calls)
	}
	if got := len(ldg.Query(ledger.Filter{Action: ledger.ActionTriggerFire})); got != 1 {
		t.Errorf("trigger_fire entries = %d", got)
	}
	invokes := ldg.Query(ledger.Filter{Action: ledger.ActionToolInvoke})
	if len(invokes) != 1 || !strings.Contains(invokes[0].Detail, PromptTool) {
		t.Errorf("tool_invoke entries = %+v", invokes)
	}
}

func TestTriggerActionDeniedWithoutPromptCapability(t *testing.T) {
	k, ldg, exec := newTestKernel(t, nil)
	ctx := context.Background()

	// Манифест без agent.prompt: триггер зарегистрирован, но действие
	// не получает привилегий от факта срабатывания
	bare := strings.Replace(kernelTestManifest, `"agent.prompt"`, `"memory.search"`, 1)
	entry, err := k.SpawnAgent(ctx, bare, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	k.Triggers().Register(domain.TriggerDefinition{
		AgentID: entry.ID,
		Kind:    domain.PatternWebhook,
		Param:   "hook",
		Prompt:  "do something",
		Enabled: true,
	})

	if fired := k.HandleWebhook(ctx, "hook"); fired != 1 {
		t.Fatalf("fired = %d", fired)
	}
	if exec.calls != 0 {
		t.Error("unauthorized trigger action reached the executor")
	}
	if got := len(ldg.Query(ledger.Filter{Action: ledger.ActionCapabilityDenied})); got != 1 {
		t.Errorf("capability_denied entries = %d", got)
	}
}

func TestHaltedLedgerFreezesMutations(t *testing.T) {
	k, ldg, _ := newTestKernel(t, nil)
	ctx := context.Background()
	entry, _ := k.SpawnAgent(ctx, kernelTestManifest, nil, "")

	ldg.Halt()

	if _, err := k.SpawnAgent(ctx, kernelTestManifest, nil, ""); !errors.Is(err, ledger.ErrHalted) {
		t.Errorf("spawn on halted: %v", err)
	}
	if err := k.KillAgent(ctx, entry.ID); !errors.Is(err, ledger.ErrHalted) {
		t.Errorf("kill on halted: %v", err)
	}
	if _, err := k.InvokeTool(ctx, entry.ID, "web_fetch", nil, 1); !errors.Is(err, ledger.ErrHalted) {
		t.Errorf("invoke on halted: %v", err)
	}
	// Чтение живо
	if _, ok := k.Registry().Get(entry.ID); !ok {
		t.Error("read path broken by halt")
	}
}

func TestCheckMemoryAccess(t *testing.T) {
	k, ldg, _ := newTestKernel(t, nil)
	entry, _ := k.SpawnAgent(context.Background(), kernelTestManifest, nil, "")

	if err := k.CheckMemoryAccess(entry.ID, capability.MemoryRead, "notes/today"); err != nil {
		t.Fatalf("read within pattern: %v", err)
	}
	if err := k.CheckMemoryAccess(entry.ID, capability.MemoryWrite, "notes/today"); err == nil {
		t.Fatal("write without pattern accepted")
	}
	if got := len(ldg.Query(ledger.Filter{Action: ledger.ActionCapabilityDenied})); got != 1 {
		t.Errorf("capability_denied entries = %d", got)
	}
}

func TestUpdateAgentManifest(t *testing.T) {
	k, ldg, _ := newTestKernel(t, nil)
	ctx := context.Background()
	entry, _ := k.SpawnAgent(ctx, kernelTestManifest, nil, "")

	updated := strings.Replace(kernelTestManifest, `"web_fetch", `, ``, 1)
	if _, err := k.UpdateAgentManifest(ctx, entry.ID, updated, nil); err != nil {
		t.Fatalf("UpdateAgentManifest: %v", err)
	}

	// Старое разрешение отозвано немедленно
	if _, err := k.InvokeTool(ctx, entry.ID, "web_fetch", nil, 1); err == nil {
		t.Fatal("revoked capability still honored")
	}
	if got := len(ldg.Query(ledger.Filter{Action: ledger.ActionConfigChange})); got != 1 {
		t.Errorf("config_change entries = %d", got)
	}
}

func TestVerifyChainAudited(t *testing.T) {
	k, ldg, _ := newTestKernel(t, nil)
	k.SpawnAgent(context.Background(), kernelTestManifest, nil, "")

	if err := k.VerifyChain(); err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if got := len(ldg.Query(ledger.Filter{Action: ledger.ActionChainVerify})); got != 1 {
		t.Errorf("chain_verify entries = %d", got)
	}
}
