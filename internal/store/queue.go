package store

import "database/sql"

// Enqueue inserts a pending outbound task scheduled for the given UTC epoch
// second.
func (db *DB) Enqueue(t *Task) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO outbound_queue (task_type, related_id, chat_id, message_body, scheduled_for, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.TaskType, t.RelatedID, t.ChatID, t.MessageBody, t.ScheduledFor, TaskPending)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DueTasks returns pending entries whose scheduled time has passed, in
// insertion order. Rows in any other status are invisible to the worker.
func (db *DB) DueTasks(nowUnix int64) ([]Task, error) {
	rows, err := db.Query(`
		SELECT id, task_type, related_id, chat_id, message_body, scheduled_for, status
		FROM outbound_queue
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY id ASC`, TaskPending, nowUnix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.TaskType, &t.RelatedID, &t.ChatID, &t.MessageBody, &t.ScheduledFor, &t.Status); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkTaskProcessing claims a pending task. Returns false if the task was
// already claimed by another tick, which is what prevents double delivery
// under overlapping ticks.
func (db *DB) MarkTaskProcessing(id int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE outbound_queue SET status = ? WHERE id = ? AND status = ?`,
		TaskProcessing, id, TaskPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkTaskFailed records a terminal delivery failure. scheduled_for is left
// untouched; failed entries are never requeued automatically.
func (db *DB) MarkTaskFailed(id int64) error {
	_, err := db.Exec(`UPDATE outbound_queue SET status = ? WHERE id = ?`, TaskFailed, id)
	return err
}

// DeleteTask removes a delivered entry. Row absence is the success record.
func (db *DB) DeleteTask(id int64) error {
	_, err := db.Exec(`DELETE FROM outbound_queue WHERE id = ?`, id)
	return err
}

// Task returns a queue entry by id, or (nil, nil) when absent.
func (db *DB) Task(id int64) (*Task, error) {
	row := db.QueryRow(`
		SELECT id, task_type, related_id, chat_id, message_body, scheduled_for, status
		FROM outbound_queue WHERE id = ?`, id)
	var t Task
	err := row.Scan(&t.ID, &t.TaskType, &t.RelatedID, &t.ChatID, &t.MessageBody, &t.ScheduledFor, &t.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
