package repo

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParsePageIDs разбирает page_ids: JSON массив строк или чисел.
// Числа сохраняются без потери точности (ID страниц длиннее float64).
func ParsePageIDs(raw []byte) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("decode page_ids: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			ids = append(ids, v)
		case json.Number:
			ids = append(ids, v.String())
		default:
			return nil, fmt.Errorf("decode page_ids: unexpected element %v", item)
		}
	}
	return ids, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// deref возвращает значение строки или "" для NULL.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
