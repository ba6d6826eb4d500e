package event

import "testing"

func TestNormalizeDirect(t *testing.T) {
	env, err := Normalize([]byte(`{"tenant_id":"t1","uuid":"o1","estado":"paid"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.TaskToken != "" {
		t.Fatalf("task token = %q, want empty", env.TaskToken)
	}
	if got := env.String("tenant_id"); got != "t1" {
		t.Fatalf("tenant_id = %q, want t1", got)
	}
	if got := env.String("estado"); got != "paid" {
		t.Fatalf("estado = %q, want paid", got)
	}
}

func TestNormalizeWorkflowEnvelope(t *testing.T) {
	env, err := Normalize([]byte(`{"taskToken":"tok-123","input":{"tenant_id":"t1","uuid":"o1"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.TaskToken != "tok-123" {
		t.Fatalf("task token = %q, want tok-123", env.TaskToken)
	}
	if got := env.String("uuid"); got != "o1" {
		t.Fatalf("uuid = %q, want o1", got)
	}
}

func TestNormalizeWorkflowEnvelopeMissingInput(t *testing.T) {
	if _, err := Normalize([]byte(`{"taskToken":"tok-123"}`)); err == nil {
		t.Fatal("expected error for workflow envelope without input")
	}
}

func TestNormalizeQueueRecord(t *testing.T) {
	raw := []byte(`{"Records":[{"body":"{\"tenant_id\":\"t1\",\"uuid\":\"o1\"}"},{"body":"{\"tenant_id\":\"ignored\"}"}]}`)
	env, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Обрабатывается только первая запись.
	if got := env.String("tenant_id"); got != "t1" {
		t.Fatalf("tenant_id = %q, want t1", got)
	}
}

func TestNormalizeQueueRecordBadBody(t *testing.T) {
	if _, err := Normalize([]byte(`{"Records":[{"body":"not-json"}]}`)); err == nil {
		t.Fatal("expected error for non-JSON queue body")
	}
}

func TestNormalizeHTTPProxy(t *testing.T) {
	raw := []byte(`{
		"queryStringParameters": {"tenant_id": "t-query"},
		"pathParameters": {"uuid": "o-path", "tenant_id": "t-path"},
		"body": "{\"worker\":\"ana\",\"uuid\":\"o-body\"}"
	}`)
	env, err := Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// pathParameters перекрывают query и body.
	if got := env.String("tenant_id"); got != "t-path" {
		t.Fatalf("tenant_id = %q, want t-path", got)
	}
	if got := env.String("uuid"); got != "o-path" {
		t.Fatalf("uuid = %q, want o-path", got)
	}
	if got := env.String("worker"); got != "ana" {
		t.Fatalf("worker = %q, want ana", got)
	}
}

func TestNormalizeHTTPProxyEmptyBody(t *testing.T) {
	env, err := Normalize([]byte(`{"pathParameters":{"uuid":"o1"},"body":""}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := env.String("uuid"); got != "o1" {
		t.Fatalf("uuid = %q, want o1", got)
	}
}

func TestNormalizeNotJSON(t *testing.T) {
	if _, err := Normalize([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}
