// Package runner запускает actions: создаёт ActionRun и ставит шаги
// в очередь с фиксированным интервалом.
//
// Runner не выполняет шаги сам. Шаг i (с 1) ставится на now + delay*i;
// порядок дополнительно защищён проверкой предшественника в worker.
package runner
