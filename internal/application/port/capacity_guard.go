package port

import (
	"context"
	"errors"
)

// ErrCapacityExhausted возвращается, когда хост не может запустить еще один браузер.
var ErrCapacityExhausted = errors.New("browser capacity exhausted")

// CapacityGuard проверяет ресурсы хоста перед запуском браузера (Port).
type CapacityGuard interface {
	Check(ctx context.Context) error
}
