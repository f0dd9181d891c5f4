package channel

import (
	"context"
	"strconv"
	"sync"
)

// MemoryExecutor records sends in memory and returns scripted results.
// It is intended for tests and local simulation runs.
type MemoryExecutor struct {
	mu   sync.Mutex
	sent []Message

	// Status returned for every send; defaults to sent.
	Status SendStatus
	// Err, when set, is returned instead of a result.
	Err error

	nextID int
}

func NewMemoryExecutor() *MemoryExecutor { return &MemoryExecutor{} }

func (m *MemoryExecutor) Name() string { return "memory" }

func (m *MemoryExecutor) Send(ctx context.Context, msg Message) (SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return SendResult{}, m.Err
	}
	m.sent = append(m.sent, msg)
	m.nextID++
	status := m.Status
	if status == "" {
		status = SendStatusSent
	}
	res := SendResult{Status: status}
	if status == SendStatusSent {
		res.ExternalID = "mem-" + strconv.Itoa(m.nextID)
	}
	return res, nil
}

func (m *MemoryExecutor) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
