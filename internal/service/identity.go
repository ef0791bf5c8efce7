package service

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AliasSuffix marca un alias como completo; la forma con sufijo es la clave canonica.
const AliasSuffix = ".linq"

const (
	aliasMinLen = 4
	aliasMaxLen = 15
)

var reservedAliases = map[string]struct{}{
	"none":        {},
	"sneaky":      {},
	"linq":        {},
	"sneakylinq":  {},
	"sneaky_linq": {},
}

// ValidateSessionID acepta solo UUIDs en su forma textual canonica (minusculas),
// que es la que se usa como clave en el registro.
func ValidateSessionID(candidate string) bool {
	if len(candidate) != 36 {
		return false
	}
	id, err := uuid.Parse(candidate)
	if err != nil {
		return false
	}
	return id.String() == candidate
}

// NormalizeAlias aplica las reglas de alias y devuelve la forma canonica con sufijo.
// Los puntos se tratan como separadores igual que espacios y guiones, por lo que
// nunca llegan a la forma normalizada.
func NormalizeAlias(candidate string) (string, error) {
	normalized := slugAlias(candidate)

	switch {
	case isNumeric(normalized):
		return "", &AliasError{Alias: normalized, Reason: "Alias must be a mix of alphanumeric characters"}
	case len(normalized) < aliasMinLen || len(normalized) > aliasMaxLen:
		return "", &AliasError{Alias: normalized, Reason: "Alias must be between 4 to 15 characters long"}
	}
	if _, reserved := reservedAliases[normalized]; reserved {
		return "", &AliasError{Alias: normalized, Reason: normalized + " is not allowed"}
	}
	return normalized + AliasSuffix, nil
}

// CanonicalAlias limpia un alias ya formado (por ejemplo el destino de un chat).
func CanonicalAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}

func slugAlias(candidate string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn))), candidate)
	if err != nil {
		folded = candidate
	}
	folded = strings.ToLower(strings.TrimSpace(folded))

	var b strings.Builder
	pendingSep := false
	for _, r := range folded {
		switch {
		case r == ' ' || r == '-' || r == '.' || r == '_':
			pendingSep = true
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
