package dispatcher

import "chatpresence/internal/apperr"

var (
	ErrInvalidUser     = apperr.New(apperr.Validation, "invalid_user", "user id is required")
	ErrInvalidRoom     = apperr.New(apperr.Validation, "invalid_room", "invalid room id")
	ErrEmptyMessage    = apperr.New(apperr.Validation, "empty_message", "message is empty")
	ErrMessageTooLong  = apperr.New(apperr.Validation, "message_too_long", "message is too long")
	ErrInvalidKind     = apperr.New(apperr.Validation, "invalid_kind", "unsupported message kind")
	ErrBadTarget       = apperr.New(apperr.Validation, "bad_target", "message needs exactly one of room or receiver")
	ErrMessageNotFound = apperr.New(apperr.Validation, "message_not_found", "message not found")
	ErrInvalidEvent    = apperr.New(apperr.Validation, "invalid_event", "event needs a target and a name")

	ErrNotRegistered = apperr.New(apperr.Authorization, "not_registered", "not connected")
	ErrMuted         = apperr.New(apperr.Authorization, "muted", "you are muted")
	ErrNotInRoom     = apperr.New(apperr.Authorization, "not_in_room", "not a member of this room")
	ErrNotSender     = apperr.New(apperr.Authorization, "not_sender", "only the sender may change this message")
	ErrForbidden     = apperr.New(apperr.Authorization, "forbidden", "not allowed")

	ErrUserOffline = apperr.New(apperr.Conflict, "user_offline", "user is not connected")

	ErrBusy        = apperr.New(apperr.Transient, "busy", "dispatcher busy")
	ErrStopped     = apperr.New(apperr.Transient, "dispatcher_stopped", "dispatcher stopped")
	ErrUnavailable = apperr.New(apperr.Transient, "storage_unavailable", "storage unavailable")
)
