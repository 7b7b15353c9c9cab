package domain

import "github.com/google/uuid"

// EntryStage picks the stage a lead lands on when entering a queue's
// pipeline. A lead already on that pipeline keeps its stage; otherwise it
// moves to firstStage, falling back to its current stage when the pipeline
// has none.
func EntryStage(lead Lead, pipelineID uuid.UUID, firstStage *uuid.UUID) *uuid.UUID {
	if lead.PipelineID != nil && *lead.PipelineID == pipelineID && lead.StageID != nil {
		return lead.StageID
	}
	if firstStage != nil {
		return firstStage
	}
	return lead.StageID
}
