package domain

import "errors"

// Типизированные отказы ядра. Вызывающая сторона различает их через
// errors.Is и переводит в ответ пользователю; в хранилище они не теряются.
var (
	ErrUserNotFound    = errors.New("пользователь не найден")
	ErrRequestNotFound = errors.New("заявка не найдена")
	ErrEmptyText       = errors.New("текст не может быть пустым")
	ErrWrongStatus     = errors.New("операция недоступна в текущем статусе заявки")
	ErrNotAssignee     = errors.New("заявка закреплена за другим администратором")
	ErrSelfDelete      = errors.New("нельзя удалить собственную учётную запись")
	ErrLastAdmin       = errors.New("нельзя удалить последнего администратора")
	ErrAccessDenied    = errors.New("доступ запрещён")
)
