package pipeline

import (
	"sync"

	"github.com/ledgerwell/decisioning/internal/domain"
)

// CalibrationHandle is an atomically-swapped pointer to the active
// CalibrationModel, so a background retrain/promote job can publish a newly
// fitted model while in-flight ProcessTransaction calls keep reading a
// complete, consistent value. Guarded by a mutex exactly like
// internal/promoter.CurrentVersion guards its RuleVersion pointer, which
// itself follows the teacher's internal/queue/scheduler.go mutable-state
// idiom.
type CalibrationHandle struct {
	mu sync.RWMutex
	m  domain.CalibrationModel
}

// NewCalibrationHandle wraps an initial CalibrationModel.
func NewCalibrationHandle(m domain.CalibrationModel) *CalibrationHandle {
	return &CalibrationHandle{m: m}
}

// Load returns the currently active model.
func (h *CalibrationHandle) Load() domain.CalibrationModel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.m
}

// Store publishes a new model atomically.
func (h *CalibrationHandle) Store(m domain.CalibrationModel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m = m
}
