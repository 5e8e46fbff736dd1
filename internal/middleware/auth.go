// Package middleware содержит HTTP middleware сервиса авторизации налива.
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// AuthMiddleware проверяет административный токен в заголовке Authorization.
type AuthMiddleware struct {
	tokenMAC []byte
	key      []byte
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным токеном.
func NewAuthMiddleware(token string) *AuthMiddleware {
	key := []byte("water-kiosk-admin")
	return &AuthMiddleware{
		tokenMAC: sign(key, token),
		key:      key,
	}
}

// Middleware пропускает запрос дальше только с корректным токеном.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(header, bearerPrefix)
		// Сравниваются HMAC токенов, чтобы время сравнения не зависело от длины совпавшего префикса.
		if token == "" || !hmac.Equal(sign(a.key, token), a.tokenMAC) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func sign(key []byte, value string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return mac.Sum(nil)
}
