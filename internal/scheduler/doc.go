// Package scheduler запускает публикацию постов по расписанию.
//
// Scheduler периодически выбирает посты, у которых наступил Schedule,
// и запускает action их варианта на всех привязанных платформах.
//
// Структура:
//   - scheduler.go — основная логика Scheduler (Tick, dispatch)
//   - cron.go      — запуск Tick по расписанию (robfig/cron)
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{
//	    Posts:    store,
//	    Preparer: postService,
//	    Runner:   actionRunner,
//	    Logger:   logger,
//	})
//
//	stop, err := sched.Start(ctx, scheduler.Every(10*time.Second))
//
// Несколько экземпляров:
//
// Leader election не нужен. MarkDispatched атомарен, поэтому пост
// запускается ровно одним scheduler'ом, даже если его выбрали несколько.
package scheduler
