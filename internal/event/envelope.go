package event

import (
	"encoding/json"
	"fmt"
)

// Envelope — нормализованная входная нагрузка. Сообщения о переходах
// приходят из разных источников в разных обёртках; после нормализации
// обработчики видят единый плоский набор полей.
type Envelope struct {
	// TaskToken — continuation-токен из workflow-обёртки, если он был.
	TaskToken string
	// Fields — плоские поля полезной нагрузки.
	Fields map[string]any
}

// String возвращает строковое значение поля; пустая строка, если поля
// нет или оно не строка.
func (e Envelope) String(key string) string {
	v, ok := e.Fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Has сообщает, присутствует ли поле в нагрузке.
func (e Envelope) Has(key string) bool {
	_, ok := e.Fields[key]
	return ok
}

// Normalize распознаёт обёртку входного сообщения и возвращает плоскую
// нагрузку. Поддерживаются четыре формы:
//
//  1. прямой объект с полями;
//  2. workflow-диспетчеризация: {"taskToken": ..., "input": {...}};
//  3. запись очереди: {"Records": [{"body": "<json>"}]} — берётся первая;
//  4. HTTP-прокси: queryStringParameters/pathParameters/body — поля
//     сливаются, приоритет у pathParameters.
func Normalize(raw []byte) (Envelope, error) {
	var outer map[string]any
	if err := json.Unmarshal(raw, &outer); err != nil {
		return Envelope{}, fmt.Errorf("decode event payload: %w", err)
	}
	return normalizeMap(outer)
}

func normalizeMap(outer map[string]any) (Envelope, error) {
	// Форма 3: запись очереди с JSON-телом.
	if records, ok := outer["Records"].([]any); ok && len(records) > 0 {
		first, ok := records[0].(map[string]any)
		if !ok {
			return Envelope{}, fmt.Errorf("queue record has unexpected shape")
		}
		body, ok := first["body"].(string)
		if !ok {
			return Envelope{}, fmt.Errorf("queue record body is not a string")
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(body), &fields); err != nil {
			return Envelope{}, fmt.Errorf("decode queue record body: %w", err)
		}
		return Envelope{Fields: fields}, nil
	}

	// Форма 2: workflow-обёртка с токеном и вложенным input.
	if token, ok := outer["taskToken"].(string); ok {
		input, ok := outer["input"].(map[string]any)
		if !ok {
			return Envelope{}, fmt.Errorf("workflow envelope missing input object")
		}
		return Envelope{TaskToken: token, Fields: input}, nil
	}

	// Форма 4: HTTP-прокси. Поля из body, затем query, затем path.
	_, hasQuery := outer["queryStringParameters"]
	_, hasPath := outer["pathParameters"]
	_, hasBody := outer["body"]
	if hasQuery || hasPath || hasBody {
		fields := make(map[string]any)
		if body, ok := outer["body"].(string); ok && body != "" {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(body), &parsed); err != nil {
				return Envelope{}, fmt.Errorf("decode http body: %w", err)
			}
			for k, v := range parsed {
				fields[k] = v
			}
		}
		if query, ok := outer["queryStringParameters"].(map[string]any); ok {
			for k, v := range query {
				fields[k] = v
			}
		}
		if path, ok := outer["pathParameters"].(map[string]any); ok {
			for k, v := range path {
				fields[k] = v
			}
		}
		return Envelope{Fields: fields}, nil
	}

	// Форма 1: прямой объект.
	return Envelope{Fields: outer}, nil
}
