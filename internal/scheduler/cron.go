package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser принимает выражения с необязательным полем секунд
// и дескрипторы вида @every 10s.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule возвращает расписание циклов опроса.
// Пустой spec — фиксированный интервал every, не меньше секунды:
// cron.Every округляет интервал до целых секунд.
func ParseSchedule(spec string, every time.Duration) (cron.Schedule, error) {
	if spec == "" {
		if every < time.Second {
			return nil, fmt.Errorf("poll interval must be at least 1s, got %s", every)
		}
		return cron.Every(every), nil
	}

	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse poll schedule %q: %w", spec, err)
	}
	return sched, nil
}
