// Package scheduler продвигает runs по flow.
//
// Poller вызывает Cycle процессора по расписанию (POLL_INTERVAL_MS или
// cron-выражение POLL_SCHEDULE) и не допускает перекрытия циклов.
// BulkProcessor рассылает сообщения всем активным подписчикам страниц
// run, TriggerProcessor отправляет одному получателю.
//
// Несколько экземпляров планировщика работают одновременно: run
// забирается условным UPDATE (Claim), и только один экземпляр его
// продвигает.
//
//	bulk := scheduler.NewBulkProcessor(scheduler.BulkConfig{...})
//	poller := &scheduler.Poller{Name: "run", Schedule: sched, Cycle: bulk.Cycle}
//	poller.Run(ctx)
package scheduler
