package http

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errNotJSON = errors.New("Message(s) must be in json format")

// missingKeyError replica el mensaje que reciben los clientes cuando falta un campo.
type missingKeyError struct {
	key string
}

func (e *missingKeyError) Error() string {
	return fmt.Sprintf("Missing key '%s'", e.key)
}

// decodeFields extrae keys de un objeto JSON. Los valores que no son string se
// devuelven con su texto JSON tal cual, asi {"alias": 1942} llega como "1942".
func decodeFields(raw []byte, keys ...string) (map[string]string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, errNotJSON
	}
	fields := make(map[string]string, len(keys))
	for _, key := range keys {
		value, ok := obj[key]
		if !ok {
			return nil, &missingKeyError{key: key}
		}
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			fields[key] = s
			continue
		}
		fields[key] = string(value)
	}
	return fields, nil
}
