package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"support-bot/internal/adapters/repo"
	"support-bot/internal/adapters/typing"
	"support-bot/internal/domain"
	"support-bot/internal/infra/cache"
	"support-bot/internal/infra/config"
	"support-bot/internal/infra/db"
	httpinfra "support-bot/internal/infra/http"
	applog "support-bot/internal/infra/log"
	"support-bot/internal/infra/metrics"
	"support-bot/internal/infra/queue"
	chatusecase "support-bot/internal/usecase/chat"
	lifecycleusecase "support-bot/internal/usecase/lifecycle"
	notifyusecase "support-bot/internal/usecase/notify"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось подготовить схему БД")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	notifyQueue := newNotifyQueue(cfg, redisClient, logger)
	notifyService := notifyusecase.NewService(repoAdapter, repoAdapter, notifyQueue, logger.With().Str("component", "notify").Logger())

	var notifier domain.Notifier = notifyService
	if !cfg.API.ForwardToTelegram {
		notifier = silentNotifier{}
	}

	var cooldown domain.Cooldown
	if redisClient != nil {
		cooldown = cache.NewRedisCooldown(redisClient)
	}

	typingStore := typing.NewMemory(cfg.Typing.TTL)
	lifecycleService := lifecycleusecase.NewService(repoAdapter, repoAdapter, repoAdapter, notifier, logger.With().Str("component", "lifecycle").Logger(), cfg.SLA.OverrideHours)
	chatService := chatusecase.NewService(repoAdapter, repoAdapter, repoAdapter, typingStore, cooldown, notifier, logger.With().Str("component", "chat").Logger(), cfg.Typing.Cooldown)

	h := &apiHandler{
		log:             logger.With().Str("component", "api").Logger(),
		users:           repoAdapter,
		requests:        repoAdapter,
		suggestions:     repoAdapter,
		settings:        repoAdapter,
		lifecycle:       lifecycleService,
		chat:            chatService,
		uploadsDir:      cfg.Uploads.Dir,
		uploadMaxBytes:  cfg.Uploads.MaxBytes,
		instructionsDir: cfg.InstructionsDir,
	}

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger(), cfg.API.CORSOrigins)
	server.Router.Get("/api/health", h.health)
	server.Router.Route("/api", func(r chi.Router) {
		if cfg.API.RequireInitData {
			r.Use(httpinfra.WebAppAuthMiddleware(cfg.Telegram.Token))
		}
		r.Get("/bootstrap", h.bootstrap)
		r.Post("/register", h.register)
		r.Get("/me/notification-settings", h.getSettings)
		r.Put("/me/notification-settings", h.updateSettings)
		r.Delete("/users/{telegramId}", h.deleteUser)
		r.Post("/requests", h.createRequest)
		r.Get("/requests/{id}/messages", h.listMessages)
		r.Post("/requests/{id}/messages", h.postMessage)
		r.Post("/requests/{id}/messages/upload", h.uploadAttachment)
		r.Post("/requests/{id}/typing", h.signalTyping)
		r.Post("/requests/{id}/take", h.takeRequest)
		r.Post("/requests/{id}/finish", h.finishRequest)
		r.Post("/suggestions", h.createSuggestion)
		r.Get("/suggestions", h.listSuggestions)
		r.Get("/instructions/{key}", h.serveInstruction)
	})
	server.Router.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.Uploads.Dir))))

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func newNotifyQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.NotificationQueue {
	if cfg.AMQPURL != "" {
		q, err := queue.NewRabbitNotifyQueue(cfg.AMQPURL, cfg.Queues.Notify)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось подключиться к RabbitMQ")
		}
		return q
	}
	if redisClient == nil {
		logger.Fatal().Msg("api: не указан брокер уведомлений (AMQP_URL или REDIS_ADDR)")
	}
	return queue.NewRedisNotifyQueue(redisClient, cfg.Queues.Notify)
}

// silentNotifier подавляет рассылку, когда пересылка из мини-приложения
// выключена флагом MINIAPP_FORWARD_TO_TELEGRAM.
type silentNotifier struct{}

func (silentNotifier) Notify(context.Context, int64, domain.NotificationKey, string) error { return nil }

func (silentNotifier) NotifyAdmins(context.Context, domain.NotificationKey, string) error {
	return nil
}

type apiHandler struct {
	log         zerolog.Logger
	users       domain.UserRepo
	requests    domain.RequestRepo
	suggestions domain.SuggestionRepo
	settings    domain.SettingsRepo
	lifecycle   *lifecycleusecase.Service
	chat        *chatusecase.Service

	uploadsDir      string
	uploadMaxBytes  int64
	instructionsDir string
}

func (h *apiHandler) health(w http.ResponseWriter, _ *http.Request) {
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "now": time.Now().UTC()})
}

func (h *apiHandler) bootstrap(w http.ResponseWriter, r *http.Request) {
	telegramID := parseTelegramID(r.URL.Query().Get("telegramId"))
	if telegramID == 0 {
		telegramID = parseTelegramID(r.Header.Get("X-Telegram-Id"))
	}
	if telegramID == 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("параметр telegramId обязателен"))
		return
	}

	now := time.Now().UTC()
	payload := map[string]any{
		"registered":           false,
		"user":                 nil,
		"role":                 nil,
		"notificationSettings": nil,
		"instructions":         h.instructionItems(),
	}

	user, err := h.users.GetUser(telegramID)
	if errors.Is(err, domain.ErrUserNotFound) {
		httpinfra.WriteJSON(w, http.StatusOK, payload)
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	settings, err := h.settings.GetSettings(user.TelegramID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	payload["registered"] = true
	payload["user"] = mapUser(user)
	payload["role"] = user.Role
	payload["notificationSettings"] = settings

	if user.Role == domain.RoleAdmin {
		pending, err := h.requests.ListRequestsByStatus(domain.StatusNew)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		inProgress, err := h.requests.ListRequestsByStatus(domain.StatusInProgress)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		completed, err := h.requests.ListRequestsByStatus(domain.StatusCompleted)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		payload["requests"] = map[string]any{
			"new":        mapRequests(pending, now),
			"inProgress": mapRequests(inProgress, now),
			"completed":  mapRequests(completed, now),
		}

		suggestions, err := h.suggestions.ListSuggestions()
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		if len(suggestions) > 100 {
			suggestions = suggestions[:100]
		}
		payload["suggestions"] = mapSuggestions(suggestions)

		users, err := h.users.ListUsers()
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		sort.Slice(users, func(i, j int) bool { return users[i].RegisteredAt.After(users[j].RegisteredAt) })
		payload["users"] = mapUsers(users)
	} else {
		own, err := h.requests.ListUserRequests(user.TelegramID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		mapped := mapRequests(own, now)
		stats := map[string]int{"open": 0, "inProgress": 0, "overdue": 0}
		for _, item := range mapped {
			switch item.Status {
			case domain.StatusNew:
				stats["open"]++
			case domain.StatusInProgress:
				stats["inProgress"]++
			}
			if item.IsOverdue {
				stats["overdue"]++
			}
		}
		payload["requests"] = mapped
		payload["stats"] = stats
	}

	httpinfra.WriteJSON(w, http.StatusOK, payload)
}

type registerPayload struct {
	TelegramID   int64  `json:"telegramId"`
	Username     string `json:"username"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	FullName     string `json:"fullName"`
	Organization string `json:"organization"`
}

func (h *apiHandler) register(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var body registerPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	if body.TelegramID <= 0 || strings.TrimSpace(body.FullName) == "" || strings.TrimSpace(body.Organization) == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("telegramId, fullName и organization обязательны"))
		return
	}

	existing, err := h.users.GetUser(body.TelegramID)
	if err == nil {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"user": mapUser(existing), "alreadyExists": true})
		return
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		h.writeDomainError(w, err)
		return
	}

	saved, err := h.lifecycle.Register(domain.User{
		TelegramID:   body.TelegramID,
		Username:     strings.TrimSpace(body.Username),
		FirstName:    strings.TrimSpace(body.FirstName),
		LastName:     strings.TrimSpace(body.LastName),
		Role:         domain.RoleUser,
		FullName:     body.FullName,
		Organization: body.Organization,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, map[string]any{"user": mapUser(saved)})
}

func (h *apiHandler) getSettings(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, domain.ErrUserNotFound)
		return
	}
	settings, err := h.settings.GetSettings(user.TelegramID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (h *apiHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	user, ok := h.currentUser(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, domain.ErrUserNotFound)
		return
	}
	var patch domain.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	settings, err := h.settings.UpdateSettings(user.TelegramID, patch)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (h *apiHandler) deleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok || actor.Role != domain.RoleAdmin {
		httpinfra.WriteError(w, http.StatusForbidden, domain.ErrAccessDenied)
		return
	}
	target := parseTelegramID(chi.URLParam(r, "telegramId"))
	if target == 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректный telegramId"))
		return
	}

	removed, reopened, err := h.lifecycle.RemoveUser(r.Context(), actor.TelegramID, target)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUserNotFound):
			httpinfra.WriteError(w, http.StatusNotFound, err)
		case errors.Is(err, domain.ErrSelfDelete), errors.Is(err, domain.ErrLastAdmin):
			httpinfra.WriteError(w, http.StatusConflict, err)
		default:
			h.writeDomainError(w, err)
		}
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"removedUser": map[string]any{
			"telegramId": removed.TelegramID,
			"role":       removed.Role,
		},
		"reopenedRequests": reopened,
	})
}

type createRequestPayload struct {
	TelegramID int64   `json:"telegramId"`
	Text       string  `json:"text"`
	Priority   string  `json:"priority"`
	SLAHours   float64 `json:"slaHours"`
}

func (h *apiHandler) createRequest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var body createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	user, ok := h.currentUserOr(r, body.TelegramID)
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, domain.ErrUserNotFound)
		return
	}

	over := lifecycleusecase.RequestOverrides{}
	if strings.TrimSpace(body.Priority) != "" {
		over.Priority = domain.ParsePriority(body.Priority)
	}
	if body.SLAHours > 0 {
		over.SLAHours = body.SLAHours
	}
	saved, err := h.lifecycle.CreateRequestWith(r.Context(), user.TelegramID, body.Text, over)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	admins, err := h.users.ListAdmins()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить список администраторов")
	}
	httpinfra.WriteJSON(w, http.StatusCreated, map[string]any{
		"request":       mapRequest(saved, time.Now().UTC()),
		"adminNotified": len(admins) > 0,
	})
}

func (h *apiHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, domain.ErrUserNotFound)
		return
	}
	requestID, ok := parseRequestID(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректный номер заявки"))
		return
	}

	thread, err := h.chat.ListMessages(requestID, user.TelegramID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"request":  mapRequest(thread.Request, time.Now().UTC()),
		"messages": mapMessages(thread.Messages),
		"typing":   thread.Typing,
	})
}

type postMessagePayload struct {
	TelegramID int64  `json:"telegramId"`
	Text       string `json:"text"`
}

func (h *apiHandler) postMessage(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var body postMessagePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	user, ok := h.currentUserOr(r, body.TelegramID)
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, domain.ErrUserNotFound)
		return
	}
	requestID, ok := parseRequestID(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректный номер заявки"))
		return
	}

	msg, err := h.chat.PostMessage(r.Context(), requestID, user.TelegramID, body.Text, nil)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, map[string]any{"message": mapMessage(msg)})
}

func (h *apiHandler) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes)
	if err := r.ParseMultipartForm(h.uploadMaxBytes); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("файл превышает лимит или форма некорректна"))
		return
	}
	user, ok := h.currentUser(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, domain.ErrUserNotFound)
		return
	}
	requestID, ok := parseRequestID(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректный номер заявки"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("поле file обязательно"))
		return
	}
	defer file.Close()

	if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
		h.writeDomainError(w, err)
		return
	}
	stored := uuid.NewString() + filepath.Ext(header.Filename)
	dst := filepath.Join(h.uploadsDir, stored)
	out, err := os.Create(dst)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dst)
		h.writeDomainError(w, err)
		return
	}
	out.Close()

	name := header.Filename
	if name == "" {
		name = stored
	}
	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	attachment := &domain.Attachment{Path: "/uploads/" + stored, Name: name, Mime: mime}

	msg, err := h.chat.PostMessage(r.Context(), requestID, user.TelegramID, fmt.Sprintf("[Вложение] %s", name), attachment)
	if err != nil {
		os.Remove(dst)
		h.writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, map[string]any{"message": mapMessage(msg)})
}

func (h *apiHandler) signalTyping(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, domain.ErrUserNotFound)
		return
	}
	requestID, ok := parseRequestID(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректный номер заявки"))
		return
	}

	allowed, err := h.chat.SignalTyping(r.Context(), requestID, user.TelegramID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"ok": allowed})
}

func (h *apiHandler) takeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok || actor.Role != domain.RoleAdmin {
		httpinfra.WriteError(w, http.StatusForbidden, domain.ErrAccessDenied)
		return
	}
	requestID, ok := parseRequestID(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректный номер заявки"))
		return
	}

	claimed, err := h.lifecycle.Claim(r.Context(), requestID, actor.TelegramID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"request": mapRequest(claimed, time.Now().UTC())})
}

func (h *apiHandler) finishRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok || actor.Role != domain.RoleAdmin {
		httpinfra.WriteError(w, http.StatusForbidden, domain.ErrAccessDenied)
		return
	}
	requestID, ok := parseRequestID(r)
	if !ok {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректный номер заявки"))
		return
	}

	completed, err := h.lifecycle.Finish(r.Context(), requestID, actor.TelegramID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"request": mapRequest(completed, time.Now().UTC())})
}

type suggestionPayload struct {
	TelegramID int64  `json:"telegramId"`
	Text       string `json:"text"`
}

func (h *apiHandler) createSuggestion(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var body suggestionPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("некорректное тело запроса"))
		return
	}
	user, ok := h.currentUserOr(r, body.TelegramID)
	if !ok {
		httpinfra.WriteError(w, http.StatusUnauthorized, domain.ErrUserNotFound)
		return
	}

	saved, err := h.lifecycle.CreateSuggestion(r.Context(), user.TelegramID, body.Text)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	admins, err := h.users.ListAdmins()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить список администраторов")
	}
	httpinfra.WriteJSON(w, http.StatusCreated, map[string]any{
		"suggestion":    mapSuggestion(saved),
		"adminNotified": len(admins) > 0,
	})
}

func (h *apiHandler) listSuggestions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok || actor.Role != domain.RoleAdmin {
		httpinfra.WriteError(w, http.StatusForbidden, domain.ErrAccessDenied)
		return
	}
	suggestions, err := h.suggestions.ListSuggestions()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if len(suggestions) > 200 {
		suggestions = suggestions[:200]
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"suggestions": mapSuggestions(suggestions)})
}

var instructionFiles = []struct {
	Key   string
	Title string
	File  string
}{
	{Key: "settings", Title: "Настройки", File: "settings.html"},
	{Key: "widgets", Title: "Виджеты", File: "widgets.html"},
	{Key: "pages", Title: "Страницы", File: "pages.html"},
	{Key: "buttons", Title: "Кнопки", File: "buttons.html"},
	{Key: "windows11setup", Title: "Установка на Windows 11", File: "windows11-setup.html"},
}

func (h *apiHandler) instructionItems() []map[string]string {
	items := make([]map[string]string, 0, len(instructionFiles))
	for _, item := range instructionFiles {
		if _, err := os.Stat(filepath.Join(h.instructionsDir, item.File)); err != nil {
			continue
		}
		items = append(items, map[string]string{
			"key":   item.Key,
			"title": item.Title,
			"url":   "/api/instructions/" + item.Key,
		})
	}
	return items
}

func (h *apiHandler) serveInstruction(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	for _, item := range instructionFiles {
		if item.Key != key {
			continue
		}
		path := filepath.Join(h.instructionsDir, item.File)
		if _, err := os.Stat(path); err != nil {
			break
		}
		http.ServeFile(w, r, path)
		return
	}
	httpinfra.WriteError(w, http.StatusNotFound, errors.New("инструкция не найдена"))
}

func (h *apiHandler) currentUser(r *http.Request) (domain.User, bool) {
	return h.currentUserOr(r, 0)
}

func (h *apiHandler) currentUserOr(r *http.Request, fallback int64) (domain.User, bool) {
	id := parseTelegramID(r.Header.Get("X-Telegram-Id"))
	if id == 0 {
		id = parseTelegramID(r.URL.Query().Get("telegramId"))
	}
	if id == 0 {
		id = fallback
	}
	if id <= 0 {
		return domain.User{}, false
	}
	user, err := h.users.GetUser(id)
	if err != nil {
		return domain.User{}, false
	}
	return user, true
}

func (h *apiHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		httpinfra.WriteError(w, http.StatusUnauthorized, err)
	case errors.Is(err, domain.ErrRequestNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrEmptyText):
		httpinfra.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrNotAssignee):
		httpinfra.WriteError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrWrongStatus), errors.Is(err, domain.ErrSelfDelete), errors.Is(err, domain.ErrLastAdmin):
		httpinfra.WriteError(w, http.StatusConflict, err)
	default:
		h.log.Error().Err(err).Msg("внутренняя ошибка")
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("внутренняя ошибка"))
	}
}

func parseTelegramID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

func parseRequestID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type apiUser struct {
	TelegramID   int64       `json:"telegramId"`
	Username     string      `json:"username,omitempty"`
	FirstName    string      `json:"firstName,omitempty"`
	LastName     string      `json:"lastName,omitempty"`
	FullName     string      `json:"fullName,omitempty"`
	Organization string      `json:"organization,omitempty"`
	Role         domain.Role `json:"role"`
	RegisteredAt time.Time   `json:"registeredAt"`
}

func mapUser(u domain.User) apiUser {
	return apiUser{
		TelegramID:   u.TelegramID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		FullName:     u.FullName,
		Organization: u.Organization,
		Role:         u.Role,
		RegisteredAt: u.RegisteredAt,
	}
}

func mapUsers(users []domain.User) []apiUser {
	result := make([]apiUser, 0, len(users))
	for _, u := range users {
		result = append(result, mapUser(u))
	}
	return result
}

type apiRequest struct {
	ID                      int64                `json:"id"`
	UserTelegramID          int64                `json:"userTelegramId"`
	Username                string               `json:"username,omitempty"`
	FirstName               string               `json:"firstName,omitempty"`
	LastName                string               `json:"lastName,omitempty"`
	Text                    string               `json:"text"`
	Status                  domain.RequestStatus `json:"status"`
	Priority                domain.Priority      `json:"priority"`
	SLADueAt                time.Time            `json:"slaDueAt"`
	CreatedAt               time.Time            `json:"createdAt"`
	InProgressAt            *time.Time           `json:"inProgressAt,omitempty"`
	CompletedAt             *time.Time           `json:"completedAt,omitempty"`
	AssignedAdminTelegramID *int64               `json:"assignedAdminTelegramId,omitempty"`
	IsOverdue               bool                 `json:"isOverdue"`
	CanOpenDialog           bool                 `json:"canOpenDialog"`
}

func mapRequest(r domain.Request, now time.Time) apiRequest {
	return apiRequest{
		ID:                      r.ID,
		UserTelegramID:          r.UserTelegramID,
		Username:                r.UserUsername,
		FirstName:               r.UserFirstName,
		LastName:                r.UserLastName,
		Text:                    r.Text,
		Status:                  r.Status,
		Priority:                r.Priority,
		SLADueAt:                r.SLADueAt,
		CreatedAt:               r.CreatedAt,
		InProgressAt:            r.InProgressAt,
		CompletedAt:             r.CompletedAt,
		AssignedAdminTelegramID: r.AssignedAdminTelegramID,
		IsOverdue:               r.IsOverdue(now),
		CanOpenDialog:           r.Status == domain.StatusInProgress,
	}
}

func mapRequests(items []domain.Request, now time.Time) []apiRequest {
	result := make([]apiRequest, 0, len(items))
	for _, item := range items {
		result = append(result, mapRequest(item, now))
	}
	return result
}

type apiAttachment struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Mime string `json:"mime"`
}

type apiMessage struct {
	ID               int64          `json:"id"`
	RequestID        int64          `json:"requestId"`
	SenderRole       domain.Role    `json:"senderRole"`
	SenderTelegramID int64          `json:"senderTelegramId"`
	Text             string         `json:"text"`
	Attachment       *apiAttachment `json:"attachment,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

func mapMessage(m domain.Message) apiMessage {
	msg := apiMessage{
		ID:               m.ID,
		RequestID:        m.RequestID,
		SenderRole:       m.SenderRole,
		SenderTelegramID: m.SenderTelegramID,
		Text:             m.Text,
		CreatedAt:        m.CreatedAt,
	}
	if m.Attachment != nil {
		msg.Attachment = &apiAttachment{Path: m.Attachment.Path, Name: m.Attachment.Name, Mime: m.Attachment.Mime}
	}
	return msg
}

func mapMessages(items []domain.Message) []apiMessage {
	result := make([]apiMessage, 0, len(items))
	for _, item := range items {
		result = append(result, mapMessage(item))
	}
	return result
}

type apiSuggestion struct {
	ID             int64     `json:"id"`
	UserTelegramID int64     `json:"userTelegramId"`
	Username       string    `json:"username,omitempty"`
	FullName       string    `json:"fullName,omitempty"`
	Organization   string    `json:"organization,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

func mapSuggestion(s domain.Suggestion) apiSuggestion {
	return apiSuggestion{
		ID:             s.ID,
		UserTelegramID: s.UserTelegramID,
		Username:       s.Username,
		FullName:       s.FullName,
		Organization:   s.Organization,
		Text:           s.Text,
		CreatedAt:      s.CreatedAt,
	}
}

func mapSuggestions(items []domain.Suggestion) []apiSuggestion {
	result := make([]apiSuggestion, 0, len(items))
	for _, item := range items {
		result = append(result, mapSuggestion(item))
	}
	return result
}

var _ domain.UserRepo = (*repo.Postgres)(nil)
var _ domain.RequestRepo = (*repo.Postgres)(nil)
var _ domain.SuggestionRepo = (*repo.Postgres)(nil)
var _ domain.SettingsRepo = (*repo.Postgres)(nil)
