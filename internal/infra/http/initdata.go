package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// WebAppAuthMiddleware проверяет initData мини-приложения по токену бота.
// Подпись передаётся в заголовке X-Telegram-Init-Data либо в query init_data.
func WebAppAuthMiddleware(botToken string) func(http.Handler) http.Handler {
	h := hmac.New(sha256.New, []byte("WebAppData"))
	h.Write([]byte(botToken))
	secret := h.Sum(nil)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.Header.Get("X-Telegram-Init-Data")
			if initData == "" {
				initData = r.URL.Query().Get("init_data")
			}
			if initData == "" {
				http.Error(w, "init_data отсутствует", http.StatusUnauthorized)
				return
			}
			if !validateInitData(initData, secret) {
				http.Error(w, "подпись недействительна", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Пара hash не участвует в подписи и может стоять в любом месте строки:
// поля вроде query_id и user сортируются после неё.
func validateInitData(initData string, secret []byte) bool {
	var hash string
	var pairs []string
	for _, part := range strings.Split(initData, "&") {
		if value, ok := strings.CutPrefix(part, "hash="); ok {
			hash = value
			continue
		}
		pairs = append(pairs, part)
	}
	if hash == "" {
		return false
	}
	expected, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	sort.Strings(pairs)
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(strings.Join(pairs, "\n")))
	return hmac.Equal(h.Sum(nil), expected)
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteJSON сериализует ответ в JSON.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
