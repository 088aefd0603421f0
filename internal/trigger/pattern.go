package trigger

import (
	"crypto/subtle"
	"fmt"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
)

// InvalidPatternError — синхронный отказ на Register: паттерн не
// скомпилировался. В рантайм такие триггеры не попадают.
type InvalidPatternError struct {
	Kind   domain.PatternKind
	Param  string
	Reason string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("trigger: invalid %s pattern %q: %s", e.Kind, e.Param, e.Reason)
}

// compiledPattern — паттерн, приведенный к исполняемой форме на этапе
// регистрации. Матчинг в рантайме тотален: все, что могло отказать,
// отказало еще в compile.
type compiledPattern struct {
	kind  domain.PatternKind
	param string

	re       *regexp.Regexp // ContentMatch
	schedule cron.Schedule  // Schedule
	lastFire time.Time      // Schedule: последняя граница, которую мы отработали
}

func compile(kind domain.PatternKind, param string, registeredAt time.Time) (*compiledPattern, error) {
	p := &compiledPattern{kind: kind, param: param}

	switch kind {
	case domain.PatternLifecycle, domain.PatternAgentSpawned, domain.PatternChannelMessage:
		// Структурный матчинг, параметр — опциональный уточнитель

	case domain.PatternContentMatch:
		re, err := regexp.Compile(param)
		if err != nil {
			return nil, &InvalidPatternError{Kind: kind, Param: param, Reason: err.Error()}
		}
		p.re = re

	case domain.PatternSchedule:
		sched, err := cron.ParseStandard(param)
		if err != nil {
			return nil, &InvalidPatternError{Kind: kind, Param: param, Reason: err.Error()}
		}
		p.schedule = sched
		p.lastFire = registeredAt

	case domain.PatternWebhook:
		if param == "" {
			return nil, &InvalidPatternError{Kind: kind, Param: param, Reason: "empty webhook token"}
		}

	default:
		return nil, &InvalidPatternError{Kind: kind, Param: param, Reason: "unknown pattern kind"}
	}

	return p, nil
}

// matches решает, срабатывает ли паттерн на событии. Для Schedule
// метод мутирует lastFire и потому зовется только под мьютексом
// планировщика.
func (p *compiledPattern) matches(ev domain.Event) bool {
	switch p.kind {
	case domain.PatternLifecycle:
		if ev.Kind != domain.EventLifecycle {
			return false
		}
		return p.param == "" || p.param == ev.Phase

	case domain.PatternAgentSpawned:
		return ev.Kind == domain.EventAgentSpawned

	case domain.PatternContentMatch:
		if ev.Kind != domain.EventChannelMessage || ev.Text == "" {
			return false
		}
		return p.re.MatchString(ev.Text)

	case domain.PatternChannelMessage:
		if ev.Kind != domain.EventChannelMessage {
			return false
		}
		return p.param == "" || p.param == string(ev.Channel)

	case domain.PatternWebhook:
		if ev.Kind != domain.EventWebhook {
			return false
		}
		// Токен сравниваем за константное время: это bearer-эквивалент
		return subtle.ConstantTimeCompare([]byte(p.param), []byte(ev.Token)) == 1

	case domain.PatternSchedule:
		if ev.Kind != domain.EventTick {
			return false
		}
		// At-least-once: пропущенные за downtime границы схлопываются
		// в одно срабатывание на ближайшем тике, не в серию.
		next := p.schedule.Next(p.lastFire)
		if next.After(ev.Timestamp) {
			return false
		}
		p.lastFire = ev.Timestamp
		return true
	}
	return false
}
