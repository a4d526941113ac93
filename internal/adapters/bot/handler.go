package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"support-bot/internal/domain"
	"support-bot/internal/infra/metrics"
	"support-bot/internal/usecase/chat"
	"support-bot/internal/usecase/lifecycle"
)

const (
	userRequestButton       = "Оставить заявку"
	suggestionsButton       = "Предложения по доработке!"
	instructionsButton      = "Инструкции"
	openWebAppButton        = "Открыть приложение"
	startRegistrationButton = "Регистрация"
	adminListRequestsButton = "Список заявок"
	adminTakeRequestButton  = "Принять в работу"
	adminOpenDialogButton   = "Открыть диалог"
	adminFinishButton       = "Завершить заявку"
)

const userWelcomeMessage = "Техническая поддержка программного продукта AdaptLink.\n" +
	"Добро пожаловать! Здесь Вы можете оставить заявку специалисту. А так же просмотреть подробные инструкции по настройке программы"

// Шаги диалоговых сценариев. Сессия живёт в памяти обработчика.
const (
	stepFullName       = "WAITING_USER_FULL_NAME"
	stepOrganization   = "WAITING_USER_ORGANIZATION"
	stepRequestText    = "WAITING_REQUEST_TEXT"
	stepSuggestionText = "WAITING_SUGGESTION_TEXT"
	stepTakeRequestID  = "WAITING_TAKE_REQUEST_ID"
	stepDialogID       = "WAITING_OPEN_DIALOG_REQUEST_ID"
	stepFinishID       = "WAITING_FINISH_REQUEST_ID"
)

type session struct {
	step           string
	fullName       string
	activeDialogID int64
}

// Handler обслуживает вебхук бота.
type Handler struct {
	bot         *tgbotapi.BotAPI
	log         zerolog.Logger
	lifecycleUC *lifecycle.Service
	chatUC      *chat.Service
	users       domain.UserRepo
	requests    domain.RequestRepo
	suggestions domain.SuggestionRepo
	webAppURL   string

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewHandler создаёт обработчик.
func NewHandler(botAPI *tgbotapi.BotAPI, log zerolog.Logger, lifecycleUC *lifecycle.Service, chatUC *chat.Service, users domain.UserRepo, requests domain.RequestRepo, suggestions domain.SuggestionRepo, webAppURL string) *Handler {
	return &Handler{
		bot:         botAPI,
		log:         log,
		lifecycleUC: lifecycleUC,
		chatUC:      chatUC,
		users:       users,
		requests:    requests,
		suggestions: suggestions,
		webAppURL:   webAppURL,
		sessions:    make(map[int64]*session),
	}
}

func (h *Handler) session(telegramID int64) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[telegramID]
	if !ok {
		s = &session{}
		h.sessions[telegramID] = s
	}
	return s
}

func (h *Handler) dropSession(telegramID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, telegramID)
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil && upd.Message.From != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		// Inline-кнопок бот не использует, но подвисший «часик» снимаем.
		_, _ = h.bot.Request(tgbotapi.NewCallback(upd.CallbackQuery.ID, ""))
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	from := msg.From

	if strings.HasPrefix(text, "/start") {
		h.handleStart(chatID, from.ID)
		return
	}

	user, err := h.users.GetUser(from.ID)
	if errors.Is(err, domain.ErrUserNotFound) {
		h.handleRegistration(chatID, from, text)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("telegram_id", from.ID).Msg("не удалось получить пользователя")
		h.reply(chatID, "Временная ошибка. Попробуйте позже.", nil)
		return
	}

	switch user.Role {
	case domain.RoleAdmin:
		h.handleAdminMessage(ctx, chatID, user, text)
	default:
		h.handleUserMessage(ctx, chatID, user, text)
	}
}

func (h *Handler) handleStart(chatID, telegramID int64) {
	user, err := h.users.GetUser(telegramID)
	if errors.Is(err, domain.ErrUserNotFound) {
		h.dropSession(telegramID)
		h.reply(chatID, "Добро пожаловать! Для начала нажмите кнопку Регистрация.", unregisteredKeyboard())
		return
	}
	if err != nil {
		h.reply(chatID, "Временная ошибка. Попробуйте позже.", nil)
		return
	}

	roleTitle := "Пользователь"
	if user.Role == domain.RoleAdmin {
		roleTitle = "Админ"
	}
	h.reply(chatID, fmt.Sprintf("Вы уже зарегистрированы.\nРоль: %s", roleTitle), nil)
	if user.Role == domain.RoleAdmin {
		h.reply(chatID, "Меню администратора:", adminMenuKeyboard())
	} else {
		h.reply(chatID, "Меню пользователя:", userMenuKeyboard())
	}
}

func (h *Handler) handleRegistration(chatID int64, from *tgbotapi.User, text string) {
	s := h.session(from.ID)

	switch {
	case s.step == "" && text == startRegistrationButton:
		s.step = stepFullName
		h.reply(chatID, "Введите ваше ФИО:", nil)
	case s.step == "":
		h.reply(chatID, "Для начала регистрации нажмите кнопку Регистрация.", unregisteredKeyboard())
	case s.step == stepFullName:
		if text == "" {
			h.reply(chatID, "ФИО не может быть пустым. Введите ФИО:", nil)
			return
		}
		s.fullName = text
		s.step = stepOrganization
		h.reply(chatID, "Введите вашу организацию:", nil)
	case s.step == stepOrganization:
		if text == "" {
			h.reply(chatID, "Организация не может быть пустой. Введите организацию:", nil)
			return
		}
		_, err := h.lifecycleUC.Register(domain.User{
			TelegramID:   from.ID,
			Username:     from.UserName,
			FirstName:    from.FirstName,
			LastName:     from.LastName,
			Role:         domain.RoleUser,
			FullName:     s.fullName,
			Organization: text,
		})
		if err != nil {
			h.log.Error().Err(err).Int64("telegram_id", from.ID).Msg("регистрация не удалась")
			h.reply(chatID, "Не удалось завершить регистрацию. Попробуйте позже.", nil)
			return
		}
		h.dropSession(from.ID)
		h.reply(chatID, "Регистрация завершена. Ваша роль: Пользователь.", nil)
		h.reply(chatID, userWelcomeMessage, nil)
		h.reply(chatID, "Меню пользователя:", userMenuKeyboard())
	}
}

func (h *Handler) handleUserMessage(ctx context.Context, chatID int64, user domain.User, text string) {
	s := h.session(user.TelegramID)

	switch text {
	case userRequestButton:
		s.step = stepRequestText
		h.reply(chatID, "Введите текст заявки одним сообщением:", nil)
		return
	case suggestionsButton:
		s.step = stepSuggestionText
		h.reply(chatID, "Напишите ваше предложение по доработке одним сообщением:", nil)
		return
	case instructionsButton:
		h.reply(chatID, "Инструкции доступны в приложении.", h.openWebAppKeyboard())
		return
	case openWebAppButton:
		h.reply(chatID, "Откройте Mini App:", h.openWebAppKeyboard())
		return
	}

	switch s.step {
	case stepRequestText:
		req, err := h.lifecycleUC.CreateRequest(ctx, user.TelegramID, text)
		if errors.Is(err, domain.ErrEmptyText) {
			h.reply(chatID, "Текст заявки пустой. Введите заявку еще раз.", nil)
			return
		}
		if err != nil {
			h.log.Error().Err(err).Int64("telegram_id", user.TelegramID).Msg("создание заявки не удалось")
			h.reply(chatID, "Не удалось сохранить заявку. Попробуйте позже.", userMenuKeyboard())
			return
		}
		s.step = ""
		h.reply(chatID, fmt.Sprintf("Заявка #%d отправлена администратору. Ожидайте обратной связи.", req.ID), userMenuKeyboard())
	case stepSuggestionText:
		_, err := h.lifecycleUC.CreateSuggestion(ctx, user.TelegramID, text)
		if errors.Is(err, domain.ErrEmptyText) {
			h.reply(chatID, "Текст предложения пустой. Введите предложение еще раз.", nil)
			return
		}
		if err != nil {
			h.log.Error().Err(err).Int64("telegram_id", user.TelegramID).Msg("создание предложения не удалось")
			h.reply(chatID, "Не удалось сохранить предложение. Попробуйте позже.", userMenuKeyboard())
			return
		}
		s.step = ""
		h.reply(chatID, "Спасибо! Ваше предложение отправлено администраторам.", userMenuKeyboard())
	default:
		h.relayUserMessage(ctx, chatID, user, text)
	}
}

// relayUserMessage пересылает свободный текст пользователя в открытый диалог
// его активной заявки.
func (h *Handler) relayUserMessage(ctx context.Context, chatID int64, user domain.User, text string) {
	active, err := h.requests.ActiveRequestFor(user.TelegramID)
	if errors.Is(err, domain.ErrRequestNotFound) {
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("telegram_id", user.TelegramID).Msg("поиск активной заявки не удался")
		return
	}
	if active.Status != domain.StatusInProgress || active.AssignedAdminTelegramID == nil {
		return
	}
	if _, err := h.chatUC.PostMessage(ctx, active.ID, user.TelegramID, text, nil); err != nil {
		h.log.Error().Err(err).Int64("request_id", active.ID).Msg("сообщение пользователя не доставлено")
		h.reply(chatID, "Не удалось отправить сообщение администратору. Попробуйте позже.", userMenuKeyboard())
	}
}

func (h *Handler) handleAdminMessage(ctx context.Context, chatID int64, admin domain.User, text string) {
	s := h.session(admin.TelegramID)

	switch text {
	case adminListRequestsButton:
		h.handleListRequests(chatID)
		return
	case adminTakeRequestButton:
		s.step = stepTakeRequestID
		h.reply(chatID, "Введите номер новой заявки, которую хотите принять в работу (например: 12).", adminMenuKeyboard())
		return
	case adminOpenDialogButton:
		s.step = stepDialogID
		h.reply(chatID, "Введите номер заявки в статусе IN_PROGRESS, чтобы открыть диалог.", adminMenuKeyboard())
		return
	case adminFinishButton:
		s.step = stepFinishID
		h.reply(chatID, "Введите номер заявки, которую нужно завершить.", adminMenuKeyboard())
		return
	case suggestionsButton:
		h.handleListSuggestions(chatID)
		return
	case instructionsButton:
		h.reply(chatID, "Инструкции доступны в приложении.", h.openWebAppKeyboard())
		return
	case openWebAppButton:
		h.reply(chatID, "Откройте Mini App:", h.openWebAppKeyboard())
		return
	}

	switch s.step {
	case stepTakeRequestID:
		h.handleTakeRequest(ctx, chatID, admin, s, text)
	case stepDialogID:
		h.handleOpenDialog(chatID, admin, s, text)
	case stepFinishID:
		h.handleFinishRequest(ctx, chatID, admin, s, text)
	default:
		h.relayAdminMessage(ctx, chatID, admin, s, text)
	}
}

func (h *Handler) handleListRequests(chatID int64) {
	pending, err := h.requests.ListRequestsByStatus(domain.StatusNew)
	if err != nil {
		h.reply(chatID, "Не удалось получить список заявок.", adminMenuKeyboard())
		return
	}
	inProgress, err := h.requests.ListRequestsByStatus(domain.StatusInProgress)
	if err != nil {
		h.reply(chatID, "Не удалось получить список заявок.", adminMenuKeyboard())
		return
	}
	if len(pending) == 0 && len(inProgress) == 0 {
		h.reply(chatID, "Сейчас нет заявок.", adminMenuKeyboard())
		return
	}
	h.reply(chatID, formatRequestBoard(pending, inProgress, time.Now()), adminMenuKeyboard())
}

func (h *Handler) handleListSuggestions(chatID int64) {
	items, err := h.suggestions.ListSuggestions()
	if err != nil {
		h.reply(chatID, "Не удалось получить предложения.", adminMenuKeyboard())
		return
	}
	h.reply(chatID, formatSuggestionList(items), adminMenuKeyboard())
}

func parseRequestID(text string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) handleTakeRequest(ctx context.Context, chatID int64, admin domain.User, s *session, text string) {
	id, ok := parseRequestID(text)
	if !ok {
		h.reply(chatID, "Номер заявки должен быть положительным числом. Попробуйте еще раз.", adminMenuKeyboard())
		return
	}
	claimed, err := h.lifecycleUC.Claim(ctx, id, admin.TelegramID)
	switch {
	case errors.Is(err, domain.ErrRequestNotFound):
		h.reply(chatID, "Заявка с таким номером не найдена.", adminMenuKeyboard())
	case errors.Is(err, domain.ErrWrongStatus):
		h.reply(chatID, "Эту заявку уже нельзя принять в работу. Выберите NEW-заявку.", adminMenuKeyboard())
	case err != nil:
		h.log.Error().Err(err).Int64("request_id", id).Msg("захват заявки не удался")
		h.reply(chatID, "Не удалось принять заявку. Попробуйте позже.", adminMenuKeyboard())
	default:
		s.step = ""
		s.activeDialogID = claimed.ID
		h.reply(chatID, fmt.Sprintf("Заявка #%d переведена в статус IN_PROGRESS. Диалог открыт.", claimed.ID), adminMenuKeyboard())
	}
}

func (h *Handler) handleOpenDialog(chatID int64, admin domain.User, s *session, text string) {
	id, ok := parseRequestID(text)
	if !ok {
		h.reply(chatID, "Введите корректный номер заявки.", adminMenuKeyboard())
		return
	}
	req, err := h.requests.GetRequest(id)
	if errors.Is(err, domain.ErrRequestNotFound) {
		h.reply(chatID, "Заявка с таким номером не найдена.", adminMenuKeyboard())
		return
	}
	if err != nil {
		h.reply(chatID, "Не удалось открыть диалог. Попробуйте позже.", adminMenuKeyboard())
		return
	}
	if req.Status != domain.StatusInProgress {
		h.reply(chatID, "Диалог можно открыть только для заявок со статусом IN_PROGRESS.", adminMenuKeyboard())
		return
	}
	if req.AssignedAdminTelegramID == nil || *req.AssignedAdminTelegramID != admin.TelegramID {
		h.reply(chatID, "Эта заявка закреплена за другим администратором.", adminMenuKeyboard())
		return
	}
	s.step = ""
	s.activeDialogID = req.ID
	h.reply(chatID, fmt.Sprintf("Диалог по заявке #%d открыт.", req.ID), adminMenuKeyboard())
}

func (h *Handler) handleFinishRequest(ctx context.Context, chatID int64, admin domain.User, s *session, text string) {
	id, ok := parseRequestID(text)
	if !ok {
		h.reply(chatID, "Введите корректный номер заявки.", adminMenuKeyboard())
		return
	}
	completed, err := h.lifecycleUC.Finish(ctx, id, admin.TelegramID)
	switch {
	case errors.Is(err, domain.ErrRequestNotFound):
		h.reply(chatID, "Заявка с таким номером не найдена.", adminMenuKeyboard())
	case errors.Is(err, domain.ErrWrongStatus):
		h.reply(chatID, "Завершить можно только заявку в статусе IN_PROGRESS.", adminMenuKeyboard())
	case errors.Is(err, domain.ErrNotAssignee):
		h.reply(chatID, "Вы не можете завершить заявку, которая назначена другому администратору.", adminMenuKeyboard())
	case err != nil:
		h.log.Error().Err(err).Int64("request_id", id).Msg("завершение заявки не удалось")
		h.reply(chatID, "Не удалось завершить заявку. Попробуйте позже.", adminMenuKeyboard())
	default:
		s.step = ""
		if s.activeDialogID == completed.ID {
			s.activeDialogID = 0
		}
		h.reply(chatID, fmt.Sprintf("Заявка #%d завершена.", completed.ID), adminMenuKeyboard())
	}
}

// relayAdminMessage пересылает свободный текст администратора в открытый им
// диалог. Протухший диалог закрывается.
func (h *Handler) relayAdminMessage(ctx context.Context, chatID int64, admin domain.User, s *session, text string) {
	if s.activeDialogID == 0 || text == "" {
		return
	}
	req, err := h.requests.GetRequest(s.activeDialogID)
	if err != nil || req.Status != domain.StatusInProgress {
		s.activeDialogID = 0
		h.reply(chatID, "Активный диалог закрыт. Откройте диалог снова через меню.", adminMenuKeyboard())
		return
	}
	if req.AssignedAdminTelegramID == nil || *req.AssignedAdminTelegramID != admin.TelegramID {
		h.reply(chatID, "Эта заявка больше не закреплена за вами.", adminMenuKeyboard())
		return
	}
	if _, err := h.chatUC.PostMessage(ctx, req.ID, admin.TelegramID, text, nil); err != nil {
		h.log.Error().Err(err).Int64("request_id", req.ID).Msg("сообщение администратора не доставлено")
		h.reply(chatID, "Не удалось отправить сообщение пользователю.", adminMenuKeyboard())
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard any) {
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = keyboard
	}
	start := time.Now()
	_, err := h.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_message", "bot_api", start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("не удалось отправить сообщение")
	}
}

func unregisteredKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(startRegistrationButton)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func userMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(userRequestButton)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(suggestionsButton)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(openWebAppButton)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(instructionsButton)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func adminMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(adminListRequestsButton)),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(adminTakeRequestButton),
			tgbotapi.NewKeyboardButton(adminOpenDialogButton),
		),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(adminFinishButton)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(suggestionsButton)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(openWebAppButton)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(instructionsButton)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func (h *Handler) openWebAppKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Открыть Mini App", h.webAppURL),
		),
	)
}
