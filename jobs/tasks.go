package jobs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/consolidation/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskConsolRegenerate rebuilds consolidation workings.
	TaskConsolRegenerate = "consol:regenerate"
	// TaskConsolTranslate posts translated trial balances and FCTR.
	TaskConsolTranslate = "consol:translate"

	scopeAll    = "all"
	scopeActive = "active"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ConsolPayload scopes a consolidation task. GroupID is a numeric id or "all";
// Period is YYYY-MM or "active".
type ConsolPayload struct {
	GroupID  string  `json:"group_id"`
	Period   string  `json:"period"`
	Entities []int64 `json:"entities,omitempty"`
	// EliminateIC runs the intercompany elimination engine before the
	// consolidation so proposals are part of the snapshot.
	EliminateIC bool `json:"eliminate_ic,omitempty"`
}

func (p *ConsolPayload) defaults() {
	p.GroupID = strings.TrimSpace(p.GroupID)
	p.Period = strings.TrimSpace(p.Period)
	if p.GroupID == "" {
		p.GroupID = scopeAll
	}
	if p.Period == "" {
		p.Period = scopeActive
	}
}

// NewRegenerateTask creates an Asynq task that regenerates workings.
func NewRegenerateTask(payload ConsolPayload) (*asynq.Task, error) {
	return newConsolTask(TaskConsolRegenerate, payload)
}

// NewTranslateTask creates an Asynq task that posts translations.
func NewTranslateTask(payload ConsolPayload) (*asynq.Task, error) {
	return newConsolTask(TaskConsolTranslate, payload)
}

func newConsolTask(taskType string, payload ConsolPayload) (*asynq.Task, error) {
	payload.defaults()
	if payload.GroupID != scopeAll {
		id, err := strconv.ParseInt(payload.GroupID, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid group id %q", payload.GroupID)
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

func decodePayload(task *asynq.Task) (ConsolPayload, error) {
	var payload ConsolPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	payload.defaults()
	return payload, nil
}
