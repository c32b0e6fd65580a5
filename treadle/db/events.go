package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"treadle.sh/core/notifier"
	"treadle.sh/core/treadle/models"
)

const KindStatus = "status"

type Event struct {
	Rkey      string `json:"rkey"`
	Kind      string `json:"kind"`
	Created   int64  `json:"created"`
	EventJson string `json:"event"`
}

func (d *DB) InsertEvent(event Event, n *notifier.Notifier) error {
	_, err := d.Exec(
		`insert into events (rkey, kind, event, created) values (?, ?, ?, ?)`,
		event.Rkey,
		event.Kind,
		event.EventJson,
		event.Created,
	)

	n.NotifyAll()

	return err
}

func (d *DB) GetEvents(cursor int64) ([]Event, error) {
	whereClause := ""
	args := []any{}
	if cursor > 0 {
		whereClause = "where created > ?"
		args = append(args, cursor)
	}

	query := fmt.Sprintf(`
		select rkey, kind, event, created
		from events
		%s
		order by created asc
		limit 100
	`, whereClause)

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evts []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Rkey, &ev.Kind, &ev.EventJson, &ev.Created); err != nil {
			return nil, err
		}
		evts = append(evts, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return evts, nil
}

func (d *DB) createStatusEvent(s models.StatusEvent, n *notifier.Notifier) error {
	now := time.Now()
	s.CreatedAt = now.Format(time.RFC3339)

	eventJson, err := json.Marshal(s)
	if err != nil {
		return err
	}

	event := Event{
		Rkey:      uuid.NewString(),
		Kind:      KindStatus,
		Created:   now.UnixNano(),
		EventJson: string(eventJson),
	}

	return d.InsertEvent(event, n)
}

func (d *DB) GetStatus(wid models.WorkflowId) (*models.StatusEvent, error) {
	var eventJson string
	err := d.QueryRow(
		`
		select
			event from events
		where
			kind = ?
			and json_extract(event, '$.repo') = ?
			and json_extract(event, '$.rkey') = ?
			and json_extract(event, '$.workflow') = ?
		order by
			created desc
		limit
			1
		`,
		KindStatus,
		wid.Repo,
		wid.Rkey,
		wid.Name,
	).Scan(&eventJson)

	if err != nil {
		return nil, err
	}

	var status models.StatusEvent
	if err := json.Unmarshal([]byte(eventJson), &status); err != nil {
		return nil, err
	}

	return &status, nil
}

func (d *DB) StatusPending(wid models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(models.StatusEvent{
		Repo:     wid.Repo,
		Rkey:     wid.Rkey,
		Workflow: wid.Name,
		Status:   models.StatusKindPending,
	}, n)
}

func (d *DB) StatusRunning(wid models.WorkflowId, n *notifier.Notifier) error {
	return d.createStatusEvent(models.StatusEvent{
		Repo:     wid.Repo,
		Rkey:     wid.Rkey,
		Workflow: wid.Name,
		Status:   models.StatusKindRunning,
	}, n)
}

// StatusFinished records a terminal event: the final lifecycle status,
// the published conclusion, and the ordered step outcomes.
func (d *DB) StatusFinished(
	wid models.WorkflowId,
	status models.StatusKind,
	conclusion models.Conclusion,
	result *models.RunResult,
	workflowError *string,
	exitCode *int64,
	n *notifier.Notifier,
) error {
	var steps []models.StepOutcome
	if result != nil {
		steps = result.Steps
	}

	return d.createStatusEvent(models.StatusEvent{
		Repo:       wid.Repo,
		Rkey:       wid.Rkey,
		Workflow:   wid.Name,
		Status:     status,
		Conclusion: &conclusion,
		Error:      workflowError,
		ExitCode:   exitCode,
		Steps:      steps,
	}, n)
}
