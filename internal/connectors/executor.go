package connectors

import (
	"fmt"
	"time"
)

// ThrottleError возвращается драйвером, когда внешняя система просит
// притормозить (считанный Retry-After). ReliabilityWrapper использует
// его для умного расчета задержки вместо слепого бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
