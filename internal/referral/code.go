// Package referral содержит генерацию реферальных кодов.
package referral

import (
	"crypto/rand"
	"strings"
)

const (
	alphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	suffixLength = 4
)

// Generate строит реферальный код: логин в верхнем регистре плюс
// четыре случайных символа base36. Уникальность обеспечивает хранилище.
func Generate(username string) string {
	suffix := make([]byte, suffixLength)
	random := make([]byte, suffixLength)
	_, _ = rand.Read(random)
	for i, b := range random {
		suffix[i] = alphabet[int(b)%len(alphabet)]
	}
	return strings.ToUpper(username) + string(suffix)
}
