package event

import "time"

// TaskEvent announces a task lifecycle change on TopicTask.
type TaskEvent struct {
	TaskID    int       `json:"taskId"`
	UUID      string    `json:"uuid"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
