package workflow

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

// MockEngine — конфигурируемая in-process реализация WorkflowEngine для
// тестов и локального запуска. Токены одноразовые: каждый выдаётся через
// IssueToken и гасится ровно один раз.
type MockEngine struct {
	mu         sync.Mutex
	executions map[string]string
	tokens     map[string]bool

	StartErr  error
	ResumeErr error

	StartCalls  int
	ResumeCalls int
	LastOutput  []byte
}

// NewMockEngine возвращает mock с успешным сценарием по умолчанию.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		executions: make(map[string]string),
		tokens:     make(map[string]bool),
	}
}

// StartExecution регистрирует именованное исполнение. Повторный запуск того
// же имени даёт ErrExecutionExists.
func (e *MockEngine) StartExecution(_ context.Context, name string, _ []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.StartCalls++
	if e.StartErr != nil {
		return "", e.StartErr
	}
	if _, ok := e.executions[name]; ok {
		return "", domain.ErrExecutionExists
	}

	executionID := uuid.NewString()
	e.executions[name] = executionID
	return executionID, nil
}

// IssueToken минтит одноразовый continuation-токен.
func (e *MockEngine) IssueToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	token := uuid.NewString()
	e.tokens[token] = true
	return token
}

// Resume гасит токен. Незнакомый или уже погашенный токен даёт ErrInvalidToken.
func (e *MockEngine) Resume(_ context.Context, token string, output []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ResumeCalls++
	if e.ResumeErr != nil {
		return e.ResumeErr
	}
	if !e.tokens[token] {
		return domain.ErrInvalidToken
	}

	delete(e.tokens, token)
	e.LastOutput = output
	return nil
}

var _ domain.WorkflowEngine = (*MockEngine)(nil)
