package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification — неизменяемая запись о результате action.
//
// Создаётся только ядром (Runner, Worker, загрузка медиа).
// Пользовательские API-вызовы уведомления не создают.
type Notification struct {
	// ID — уникальный идентификатор.
	ID uuid.UUID `json:"id"`

	// InstanceID — экземпляр платформы, к которому относится уведомление.
	InstanceID *uuid.UUID `json:"instance_id,omitempty"`

	// UserID — получатель.
	UserID uuid.UUID `json:"user_id"`

	// Message — текст уведомления.
	Message string `json:"message"`

	// Error — true для уведомлений об ошибке.
	Error bool `json:"error"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewNotification создаёт уведомление об успехе.
func NewNotification(userID uuid.UUID, instanceID *uuid.UUID, message string) *Notification {
	return &Notification{
		ID:         uuid.New(),
		InstanceID: instanceID,
		UserID:     userID,
		Message:    message,
		CreatedAt:  time.Now(),
	}
}

// NewErrorNotification создаёт уведомление об ошибке.
func NewErrorNotification(userID uuid.UUID, instanceID *uuid.UUID, message string) *Notification {
	n := NewNotification(userID, instanceID, message)
	n.Error = true
	return n
}
