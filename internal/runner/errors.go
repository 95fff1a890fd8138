package runner

import "errors"

var (
	// ErrNoInstances — у поста нет привязанных экземпляров платформ.
	ErrNoInstances = errors.New("post has no platform instances")

	// ErrNoSteps — action не содержит шагов.
	ErrNoSteps = errors.New("action has no steps")
)
