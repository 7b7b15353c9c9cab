package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskRebuildMarkers = "routing.markers.rebuild"

// RebuildMarkersPayload narrows a rebuild to one tenant when TenantID is set.
type RebuildMarkersPayload struct {
	TenantID    string `json:"tenantId,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

func NewRebuildMarkersTask(payload RebuildMarkersPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRebuildMarkers, data), nil
}

func ParseRebuildMarkersPayload(task *asynq.Task) (RebuildMarkersPayload, error) {
	var payload RebuildMarkersPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RebuildMarkersPayload{}, err
	}
	return payload, nil
}
