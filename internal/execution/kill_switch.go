package execution

import (
	"sync"
	"time"
)

// Trip причина и момент срабатывания kill switch
type Trip struct {
	Reason string
	At     time.Time
}

// KillSwitch блокирует новые ордера до конца процесса. Срабатывает, когда
// результат сделки нельзя надежно записать (леджер не сохранился, брокер
// отверг авторизацию). Сбрасывается только перезапуском.
type KillSwitch struct {
	mu   sync.Mutex
	trip *Trip
	now  func() time.Time
}

// NewKillSwitch создает kill switch в рабочем состоянии
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{now: time.Now}
}

// Activate фиксирует первую причину. Возвращает true, если срабатывание новое.
func (ks *KillSwitch) Activate(reason string) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.trip != nil {
		return false
	}
	ks.trip = &Trip{Reason: reason, At: ks.now()}
	return true
}

// Tripped возвращает срабатывание, если оно было
func (ks *KillSwitch) Tripped() (Trip, bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.trip == nil {
		return Trip{}, false
	}
	return *ks.trip, true
}

// IsActive сообщает, сработал ли kill switch
func (ks *KillSwitch) IsActive() bool {
	_, ok := ks.Tripped()
	return ok
}
