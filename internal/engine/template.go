package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PlaceholderUserID — плейсхолдер идентификатора получателя.
const PlaceholderUserID = "USER_ID"

// Placeholder возвращает плейсхолдер в форме {{KEY}}.
func Placeholder(key string) string {
	return "{{" + key + "}}"
}

// Render заменяет все {{KEY}} в строке значениями vars.
// Неизвестные плейсхолдеры остаются как есть.
func Render(s string, vars map[string]string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	for key, val := range vars {
		s = strings.ReplaceAll(s, Placeholder(key), val)
	}
	return s
}

// RenderValue рекурсивно подставляет vars во все строки map и slice.
// Ключи объектов не меняются.
func RenderValue(value any, vars map[string]string) any {
	switch v := value.(type) {
	case string:
		return Render(v, vars)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			result[key] = RenderValue(val, vars)
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			result[i] = RenderValue(val, vars)
		}
		return result

	default:
		// Числа, bool и nil возвращаем как есть
		return value
	}
}

// SubstitutePlaceholders подставляет vars в каждое строковое значение
// JSON документа. Подстановка идёт после разбора, поэтому значения
// всегда корректно экранируются при обратной сериализации.
func SubstitutePlaceholders(msg json.RawMessage, vars map[string]string) (json.RawMessage, error) {
	if len(vars) == 0 || !bytes.Contains(msg, []byte("{{")) {
		return msg, nil
	}

	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlaceholder, err)
	}

	out, err := json.Marshal(RenderValue(doc, vars))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlaceholder, err)
	}
	return out, nil
}
