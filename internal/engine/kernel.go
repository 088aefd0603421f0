package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/agentos-kernel-prototype/internal/capability"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"github.com/xela07ax/agentos-kernel-prototype/internal/infra"
	"github.com/xela07ax/agentos-kernel-prototype/internal/ledger"
	"github.com/xela07ax/agentos-kernel-prototype/internal/manifest"
	"github.com/xela07ax/agentos-kernel-prototype/internal/quota"
	"github.com/xela07ax/agentos-kernel-prototype/internal/registry"
	"github.com/xela07ax/agentos-kernel-prototype/internal/trigger"
	"go.uber.org/zap"
)

// ErrAgentNotRunning — операция против агента, который не в running.
var ErrAgentNotRunning = errors.New("kernel: agent is not running")

// PromptTool — псевдо-тул, через который исполняются действия
// триггеров. Срабатывание триггера не дает привилегий: агент без
// этого тула в capabilities не получит и триггерных промптов.
const PromptTool = "agent.prompt"

// ExecutionProvider — внешний драйвер исполнения тулов. Таймауты
// отдельных вызовов — его зона ответственности; ядро фиксирует в
// цепочке только итоговый исход.
type ExecutionProvider interface {
	Call(ctx context.Context, tool string, payload []byte) ([]byte, error)
}

// Kernel — control plane ядра: единственный владелец пайплайна
// verify -> authorize -> meter -> execute -> audit. Глобального лока
// вокруг пайплайна нет: каждый компонент защищает только свое.
type Kernel struct {
	reg      *registry.Registry
	quotas   *quota.Meter
	ldg      *ledger.Ledger
	sched    *trigger.Scheduler
	executor ExecutionProvider
	policy   *SystemPolicy
	signals  *SignalBus // Может быть nil: сигналы наружу опциональны
	metrics  *Metrics
	logger   *zap.Logger
}

func NewKernel(
	reg *registry.Registry,
	quotas *quota.Meter,
	ldg *ledger.Ledger,
	sched *trigger.Scheduler,
	executor ExecutionProvider,
	policy *SystemPolicy,
	signals *SignalBus,
	metrics *Metrics,
	logger *zap.Logger,
) *Kernel {
	return &Kernel{
		reg:      reg,
		quotas:   quotas,
		ldg:      ldg,
		sched:    sched,
		executor: executor,
		policy:   policy,
		signals:  signals,
		metrics:  metrics,
		logger:   logger.Named("kernel"),
	}
}

// SpawnAgent — полный путь создания агента: конверт (если есть) ->
// верификация манифеста -> системная политика -> реестр -> аудит ->
// событие AgentSpawned в планировщик.
func (k *Kernel) SpawnAgent(ctx context.Context, manifestTOML string, envelopeJSON []byte, parent string) (*domain.AgentEntry, error) {
	if k.ldg.Halted() {
		return nil, ledger.ErrHalted
	}

	var env *manifest.Envelope
	if len(envelopeJSON) > 0 {
		parsed, err := manifest.ParseEnvelope(envelopeJSON)
		if err != nil {
			return nil, err
		}
		env = parsed
	}
	if k.policy != nil && k.policy.RequireSigned && env == nil {
		k.metrics.SpawnRejects.Inc()
		return nil, &PolicyViolationError{Reason: "unsigned manifests are not accepted"}
	}

	m, err := manifest.Verify(manifestTOML, env)
	if err != nil {
		k.metrics.SpawnRejects.Inc()
		return nil, err
	}
	if err := k.policy.ValidateManifest(m); err != nil {
		k.metrics.SpawnRejects.Inc()
		return nil, err
	}

	entry, err := k.reg.Spawn(*m, parent)
	if err != nil {
		return nil, err
	}
	k.quotas.Register(entry.ID, m.Resources)

	detail := fmt.Sprintf("name=%s version=%s signed=%t", m.Name, m.Version, env != nil)
	if err := k.audit(ledger.ActionAgentSpawn, entry.ID, detail); err != nil {
		return nil, err
	}
	k.metrics.Spawns.Inc()

	k.dispatch(ctx, k.sched.OnEvent(domain.Event{
		Kind:      domain.EventAgentSpawned,
		AgentID:   entry.ID,
		Timestamp: entry.CreatedAt,
	}))
	return entry, nil
}

// KillAgent переводит агента в терминальное killed, запечатывает его
// квоты и рассылает kill-сигнал адаптерам. Идемпотентен в смысле
// спецификации: повторный kill получает NotFound.
func (k *Kernel) KillAgent(ctx context.Context, id string) error {
	if k.ldg.Halted() {
		return ledger.ErrHalted
	}

	entry, err := k.reg.Kill(id)
	if err != nil {
		return err
	}

	// In-flight вызовы не прерываются силой: печать квот лишь
	// отклоняет новые захваты, выданные слоты освободятся сами.
	k.quotas.Seal(id)

	if err := k.audit(ledger.ActionAgentKill, id, "name="+entry.Name); err != nil {
		return err
	}
	k.metrics.Kills.Inc()

	if k.signals != nil {
		k.signals.AnnounceKill(ctx, id)
	}
	k.dispatch(ctx, k.sched.OnEvent(domain.Event{
		Kind:    domain.EventLifecycle,
		AgentID: id,
		Phase:   "stop",
	}))
	return nil
}

// SetAgentState — pause/resume/восстановление из errored, с аудитом и
// lifecycle-событием.
func (k *Kernel) SetAgentState(ctx context.Context, id string, next domain.AgentState) error {
	if k.ldg.Halted() {
		return ledger.ErrHalted
	}

	entry, err := k.reg.Transition(id, next)
	if err != nil {
		return err
	}
	if err := k.audit(ledger.ActionAgentState, id, "state="+string(next)); err != nil {
		return err
	}

	phase := "start"
	if next == domain.StatePaused || next == domain.StateErrored {
		phase = "stop"
	}
	if next == domain.StateErrored {
		phase = "error"
	}
	if k.signals != nil {
		k.signals.AnnounceState(ctx, id, next)
	}
	k.dispatch(ctx, k.sched.OnEvent(domain.Event{
		Kind:    domain.EventLifecycle,
		AgentID: entry.ID,
		Phase:   phase,
	}))
	return nil
}

// UpdateAgentManifest — явная аудируемая смена манифеста (и вместе с
// ним capabilities) без re-spawn. Конверт обязателен, если system
// policy требует подписанные манифесты.
func (k *Kernel) UpdateAgentManifest(ctx context.Context, id string, manifestTOML string, envelopeJSON []byte) (*domain.AgentEntry, error) {
	if k.ldg.Halted() {
		return nil, ledger.ErrHalted
	}

	var env *manifest.Envelope
	if len(envelopeJSON) > 0 {
		parsed, err := manifest.ParseEnvelope(envelopeJSON)
		if err != nil {
			return nil, err
		}
		env = parsed
	}

	m, err := manifest.Verify(manifestTOML, env)
	if err != nil {
		return nil, err
	}
	if err := k.policy.ValidateManifest(m); err != nil {
		return nil, err
	}

	entry, err := k.reg.ReplaceManifest(id, *m)
	if err != nil {
		return nil, err
	}
	k.quotas.Register(id, m.Resources)

	if err := k.audit(ledger.ActionConfigChange, id, "manifest updated, name="+m.Name); err != nil {
		return nil, err
	}
	return entry, nil
}

// InvokeTool — горячий путь: guard -> квоты -> исполнение -> аудит.
// Отказы guard'а и квот гасятся локально как «deny and record»: они
// аудируются, возвращаются типизированной ошибкой и никогда не
// становятся процессными.
func (k *Kernel) InvokeTool(ctx context.Context, agentID, tool string, payload []byte, estTokens uint64) ([]byte, error) {
	if k.ldg.Halted() {
		return nil, ledger.ErrHalted
	}

	start := time.Now()
	k.metrics.ToolRequests.WithLabelValues(tool).Inc()

	entry, ok := k.reg.Get(agentID)
	if !ok {
		return nil, registry.ErrNotFound
	}
	if entry.State != domain.StateRunning {
		return nil, ErrAgentNotRunning
	}

	// 1. Авторизация (чистая, без локов)
	if err := capability.CheckTool(agentID, &entry.Manifest, tool); err != nil {
		k.denied(agentID, "tool="+tool)
		return nil, err
	}

	// 2. Слот конкурентности — scoped: вернется на любом пути выхода
	slot, err := k.quotas.TryAcquireToolSlot(agentID)
	if err != nil {
		k.quotaReject(agentID, "tool_slots tool="+tool, err)
		return nil, err
	}
	defer slot.Release()

	// 3. Токены скользящего часа
	if estTokens > 0 {
		if err := k.quotas.TryConsumeTokens(agentID, estTokens); err != nil {
			k.quotaReject(agentID, fmt.Sprintf("llm_tokens n=%d tool=%s", estTokens, tool), err)
			return nil, err
		}
	}

	// 4. Исполнение у внешнего драйвера (retry/CB/таймауты — в нем)
	resp, execErr := k.executor.Call(ctx, tool, payload)
	k.reg.Touch(agentID)

	// 5. Финальный аудит исхода. Payload в detail не попадает никогда.
	outcome := "ok"
	if execErr != nil {
		outcome = "error"
	}
	durMs := time.Since(start).Milliseconds()
	if err := k.audit(ledger.ActionToolInvoke, agentID,
		fmt.Sprintf("tool=%s outcome=%s duration_ms=%d", tool, outcome, durMs)); err != nil {
		return nil, err
	}

	k.metrics.ToolDuration.WithLabelValues(tool, outcome).Observe(time.Since(start).Seconds())
	return resp, execErr
}

// CheckMemoryAccess проверяет доступ агента к ключу памяти.
// Отказ аудируется с ключом, но без содержимого.
func (k *Kernel) CheckMemoryAccess(agentID string, op capability.MemoryOp, key string) error {
	entry, ok := k.reg.Get(agentID)
	if !ok {
		return registry.ErrNotFound
	}
	if err := capability.CheckMemory(agentID, &entry.Manifest, op, key); err != nil {
		k.denied(agentID, fmt.Sprintf("memory_%s key=%s", op, key))
		return err
	}
	return nil
}

// HandleMessage принимает нормализованное сообщение из адаптера и
// скармливает его планировщику. Платформенный payload ядро не трогает.
func (k *Kernel) HandleMessage(ctx context.Context, msg domain.ChannelMessage) {
	text := msg.Content.Text
	if msg.Content.Kind == domain.ContentCommand {
		text = msg.Content.Command
	}
	k.dispatch(ctx, k.sched.OnEvent(domain.Event{
		Kind:      domain.EventChannelMessage,
		Text:      text,
		Channel:   msg.Channel,
		Timestamp: msg.Timestamp,
	}))
}

// HandleWebhook принимает входящий хук; матчинг по токену выполняет
// планировщик (константное время).
func (k *Kernel) HandleWebhook(ctx context.Context, token string) int {
	fired := k.sched.OnEvent(domain.Event{
		Kind:  domain.EventWebhook,
		Token: token,
	})
	k.dispatch(ctx, fired)
	return len(fired)
}

// Tick продвигает часы Schedule-триггеров. Дергается по таймеру из main.
func (k *Kernel) Tick(ctx context.Context) {
	k.dispatch(ctx, k.sched.Tick())
}

// Triggers открывает CRUD-поверхность планировщика.
func (k *Kernel) Triggers() *trigger.Scheduler { return k.sched }

// Registry открывает read-поверхность реестра (list/get/count).
func (k *Kernel) Registry() *registry.Registry { return k.reg }

// Ledger открывает read-поверхность цепочки (query/verify/tip).
func (k *Kernel) Ledger() *ledger.Ledger { return k.ldg }

// VerifyChain — проверка целостности по запросу оператора. Сам факт
// проверки тоже аудируется.
func (k *Kernel) VerifyChain() error {
	err := k.ldg.VerifyChain()
	outcome := "ok"
	if err != nil {
		outcome = err.Error()
	}
	// Если цепочка уже битая, запись может не пройти — и это нормально
	_, _ = k.ldg.Append(ledger.ActionChainVerify, "", "result="+outcome)
	return err
}

// dispatch исполняет триггерные действия через общий пайплайн.
// Никакого обхода: guard и квоты отрабатывают как для любого вызова.
func (k *Kernel) dispatch(ctx context.Context, actions []domain.FiredAction) {
	for _, a := range actions {
		k.metrics.TriggerFires.Inc()
		est := uint64(infra.EstimateTokens(a.Prompt))
		if _, err := k.InvokeTool(ctx, a.AgentID, PromptTool, []byte(a.Prompt), est); err != nil {
			k.logger.Warn("fired action rejected by pipeline",
				zap.String("trigger_id", a.TriggerID),
				zap.String("agent_id", a.AgentID),
				zap.Error(err))
		}
	}
}

// audit пишет запись и обрабатывает единственный по-настоящему
// фатальный случай: мутация реестра прошла, а аудит — нет.
func (k *Kernel) audit(action ledger.Action, agentID, detail string) error {
	_, err := k.ldg.Append(action, agentID, infra.SanitizeDetail(detail))
	if err != nil {
		// Неаудированное изменение состояния хуже падения: леджер уже
		// защелкнул halted, новые мутации приниматься не будут.
		k.logger.Error("FATAL: state mutated but audit append failed, kernel frozen",
			zap.String("action", string(action)),
			zap.String("agent_id", agentID),
			zap.Error(err))
	}
	return err
}

func (k *Kernel) denied(agentID, detail string) {
	k.metrics.Denials.WithLabelValues("capability").Inc()
	_, _ = k.ldg.Append(ledger.ActionCapabilityDenied, agentID, infra.SanitizeDetail(detail))
}

func (k *Kernel) quotaReject(agentID, detail string, cause error) {
	k.metrics.Denials.WithLabelValues("quota").Inc()
	_, _ = k.ldg.Append(ledger.ActionQuotaExceeded, agentID, infra.SanitizeDetail(detail))
	k.logger.Debug("quota rejection", zap.String("agent_id", agentID), zap.Error(cause))
}
