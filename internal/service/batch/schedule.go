package batch

import (
	"fmt"
	"sort"
)

const (
	ScheduleMorning = "morning"
	ScheduleEvening = "evening"
)

// Schedule は定期実行のトリガーごとに実行するジョブの一覧を返します
func (j *Jobs) Schedule(name string) ([]Job, error) {
	switch name {
	case ScheduleMorning:
		return []Job{
			{Name: JobAutoCancelExpired, Run: j.AutoCancelExpired},
			{Name: JobAutoBorrow, Run: j.AutoBorrow},
			{Name: JobAutoCompleteStale, Run: j.AutoCompleteStale},
		}, nil
	case ScheduleEvening:
		return []Job{
			{Name: JobAutoBorrow, Run: j.AutoBorrow},
			{Name: JobAutoCancelExpired, Run: j.AutoCancelExpired},
			{Name: JobPurgeOldBookings, Run: j.PurgeOldBookings},
			{Name: JobPurgeInactiveUsers, Run: j.PurgeInactiveUsers},
		}, nil
	default:
		return nil, fmt.Errorf("unknown schedule %q", name)
	}
}

// All は名前をキーにしたすべてのジョブを返します
func (j *Jobs) All() map[string]Job {
	jobs := []Job{
		{Name: JobAutoBorrow, Run: j.AutoBorrow},
		{Name: JobAutoCancelExpired, Run: j.AutoCancelExpired},
		{Name: JobAutoCompleteStale, Run: j.AutoCompleteStale},
		{Name: JobPurgeOldBookings, Run: j.PurgeOldBookings},
		{Name: JobPurgeInactiveUsers, Run: j.PurgeInactiveUsers},
	}
	m := make(map[string]Job, len(jobs))
	for _, job := range jobs {
		m[job.Name] = job
	}
	return m
}

// Select はジョブ名が指定されていればそのジョブを、なければスケジュールのジョブを返します
func (j *Jobs) Select(schedule string, names []string) ([]Job, error) {
	if len(names) == 0 {
		return j.Schedule(schedule)
	}
	all := j.All()
	jobs := make([]Job, 0, len(names))
	for _, name := range names {
		job, ok := all[name]
		if !ok {
			known := make([]string, 0, len(all))
			for k := range all {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("unknown job %q, must be one of %v", name, known)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
