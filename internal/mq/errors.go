package mq

import "errors"

var (
	// ErrNoChannel — AMQP канал не открыт (идёт переподключение).
	ErrNoChannel = errors.New("mq: no channel available")

	// ErrConnectionClosed — соединение закрыто через Close.
	ErrConnectionClosed = errors.New("mq: connection closed")

	// ErrNotConfirmed — брокер отклонил публикацию (basic.nack).
	ErrNotConfirmed = errors.New("mq: publish not confirmed")

	// ErrMalformedMessage — тело сообщения не является заданием шага.
	ErrMalformedMessage = errors.New("mq: malformed message")
)
