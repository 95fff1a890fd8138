package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер расписания тиков: cron-выражения и дескрипторы (@every 30s).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Every возвращает спецификацию для тика с фиксированным интервалом.
func Every(interval time.Duration) string {
	return "@every " + interval.String()
}

// ValidateSpec проверяет спецификацию расписания.
func ValidateSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule spec %q: %w", spec, err)
	}
	return nil
}

// Start запускает Tick по расписанию spec.
//
// Тик, начавшийся до завершения предыдущего, пропускается.
// Останавливается при отмене ctx; возвращённая функция ждёт
// завершения текущего тика.
func (s *Scheduler) Start(ctx context.Context, spec string) (func(), error) {
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
	)

	_, err := c.AddFunc(spec, func() {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("scheduler tick failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule spec %q: %w", spec, err)
	}

	c.Start()
	s.logger.Info("scheduler started", "spec", spec)

	stop := func() {
		<-c.Stop().Done()
	}
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return stop, nil
}

// cronLogger направляет логи cron в slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
