package domain

// Viewer — сторона, запрашивающая доступ к заявке.
type Viewer struct {
	TelegramID int64
	Role       Role
}

// CanClaim проверяет, можно ли принять заявку в работу.
// В работу берутся только NEW-заявки; владение эксклюзивно.
func CanClaim(r Request) error {
	if r.Status != StatusNew {
		return ErrWrongStatus
	}
	return nil
}

// CanFinish проверяет, может ли администратор завершить заявку.
// Завершает только назначенный администратор и только из IN_PROGRESS.
func CanFinish(r Request, adminTelegramID int64) error {
	if r.Status != StatusInProgress {
		return ErrWrongStatus
	}
	if r.AssignedAdminTelegramID == nil || *r.AssignedAdminTelegramID != adminTelegramID {
		return ErrNotAssignee
	}
	return nil
}

// CanReadThread проверяет право на чтение диалога заявки.
// Владелец читает всегда; администратор — как назначенный исполнитель либо
// пока заявка NEW (видимость нераспределённых заявок).
func CanReadThread(r Request, v Viewer) error {
	switch v.Role {
	case RoleUser:
		if r.UserTelegramID != v.TelegramID {
			return ErrAccessDenied
		}
		return nil
	case RoleAdmin:
		if r.AssignedAdminTelegramID != nil && *r.AssignedAdminTelegramID == v.TelegramID {
			return nil
		}
		if r.Status == StatusNew {
			return nil
		}
		return ErrAccessDenied
	default:
		return ErrAccessDenied
	}
}

// CanPost проверяет право писать в диалог заявки. Писать можно только в
// IN_PROGRESS: владельцу — пока есть назначенный администратор,
// администратору — только как назначенному исполнителю.
func CanPost(r Request, v Viewer) error {
	if r.Status != StatusInProgress {
		return ErrWrongStatus
	}
	switch v.Role {
	case RoleUser:
		if r.UserTelegramID != v.TelegramID || r.AssignedAdminTelegramID == nil {
			return ErrAccessDenied
		}
		return nil
	case RoleAdmin:
		if r.AssignedAdminTelegramID == nil || *r.AssignedAdminTelegramID != v.TelegramID {
			return ErrNotAssignee
		}
		return nil
	default:
		return ErrAccessDenied
	}
}
