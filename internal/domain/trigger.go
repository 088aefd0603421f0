package domain

import "time"

// PatternKind — вид паттерна триггера (внешняя CRUD-поверхность).
// Каждый вид несет один строковый параметр, интерпретируемый по-своему.
type PatternKind string

const (
	PatternLifecycle      PatternKind = "Lifecycle"      // Параметр: фаза (start/stop/error), пусто = любая
	PatternAgentSpawned   PatternKind = "AgentSpawned"   // Структурное совпадение по виду события
	PatternContentMatch   PatternKind = "ContentMatch"   // Параметр: regex по тексту сообщения
	PatternSchedule       PatternKind = "Schedule"       // Параметр: cron-выражение
	PatternWebhook        PatternKind = "Webhook"        // Параметр: bearer-токен эндпоинта
	PatternChannelMessage PatternKind = "ChannelMessage" // Параметр: тип канала, пусто = любой
)

// TriggerDefinition — стоящее правило: событие -> авторизованное действие агента.
// Единственная разрешенная мутация после создания — инкремент FireCount,
// и он атомарен с эмиссией FiredAction.
type TriggerDefinition struct {
	ID      string      `json:"id"`
	AgentID string      `json:"agent_id"` // Владелец: от чьего имени исполняется действие
	Kind    PatternKind `json:"kind"`
	Param   string      `json:"param"` // Интерпретируется согласно Kind

	Prompt    string `json:"prompt"`    // Шаблон действия, уходит агенту при срабатывании
	MaxFires  uint64 `json:"max_fires"` // 0 = без ограничений
	FireCount uint64 `json:"fire_count"`
	Enabled   bool   `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
}

// EventKind — вид входящего события для матчинга.
type EventKind string

const (
	EventLifecycle      EventKind = "lifecycle"       // Переход состояния агента
	EventAgentSpawned   EventKind = "agent_spawned"   // Появился новый агент
	EventChannelMessage EventKind = "channel_message" // Нормализованное сообщение из адаптера
	EventWebhook        EventKind = "webhook"         // Входящий HTTP-хук
	EventTick           EventKind = "tick"            // Тик часов планировщика (для Schedule)
)

// Event — нормализованное событие, поступающее в планировщик триггеров.
// Ядро никогда не разбирает платформенные payload'ы само: адаптеры
// обязаны привести все к этой форме.
type Event struct {
	Kind      EventKind   `json:"kind"`
	AgentID   string      `json:"agent_id,omitempty"` // Для lifecycle/spawned: о ком событие
	Phase     string      `json:"phase,omitempty"`    // Для lifecycle: start/stop/error
	Text      string      `json:"text,omitempty"`     // Для content-match
	Channel   ChannelType `json:"channel,omitempty"`  // Для channel_message
	Token     string      `json:"-"`                  // Для webhook; в сериализацию не попадает
	Timestamp time.Time   `json:"timestamp"`
}

// FiredAction — результат срабатывания триггера. Сам по себе ничего
// не исполняет: при исполнении проходит CapabilityGuard и квоты на
// общих основаниях, планировщик авторизацию не обходит.
type FiredAction struct {
	TriggerID string    `json:"trigger_id"`
	AgentID   string    `json:"agent_id"`
	Prompt    string    `json:"prompt"`
	FiredAt   time.Time `json:"fired_at"`
}
