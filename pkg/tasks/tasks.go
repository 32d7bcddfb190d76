// Package tasks defines the payload of ingestion jobs sent through the task queue.
package tasks

import "ragchat-go/internal/model"

// TrainingTask asks the ingestion pipeline to (re)build the chunks of one training record.
// Website tasks carry the already-crawled page text in Content; document tasks name the
// uploaded object in FileName and are converted by the pipeline.
type TrainingTask struct {
	ID       string           `json:"id"`
	Kind     model.SourceKind `json:"kind"`
	FileName string           `json:"file_name,omitempty"`
	URL      string           `json:"url,omitempty"`
	Content  string           `json:"content,omitempty"`
}
