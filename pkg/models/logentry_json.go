package models

import (
	"encoding/json"
)

// UnmarshalJSON decodes a LogPatch distinguishing absent routing fields from
// explicit nulls: {"topicId": null} clears the topic, omitting it leaves the
// topic alone.
func (p *LogPatch) UnmarshalJSON(data []byte) error {
	type plain struct {
		Content                *string               `json:"content"`
		Summary                *string               `json:"summary"`
		ClassificationStatus   *ClassificationStatus `json:"classificationStatus"`
		ClassificationAttempts *int                  `json:"classificationAttempts"`
		ClassificationError    *string               `json:"classificationError"`
	}
	var body plain
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	p.Content = body.Content
	p.Summary = body.Summary
	p.ClassificationStatus = body.ClassificationStatus
	p.ClassificationAttempts = body.ClassificationAttempts
	p.ClassificationError = body.ClassificationError

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if raw, ok := probe["topicId"]; ok {
		var id *string
		if err := json.Unmarshal(raw, &id); err != nil {
			return err
		}
		p.SetTopicID(id)
	}
	if raw, ok := probe["taskId"]; ok {
		var id *string
		if err := json.Unmarshal(raw, &id); err != nil {
			return err
		}
		p.SetTaskID(id)
	}
	return nil
}
