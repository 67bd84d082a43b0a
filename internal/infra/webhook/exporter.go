package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"live-quiz-service/internal/domain"
)

// GradeExporter posts every persisted grade batch to a grade book endpoint as JSON.
// Any non-2xx answer fails the export, which rolls the grade batch back.
type GradeExporter struct {
	url    string
	client *http.Client
}

func NewGradeExporter(url string, client *http.Client) *GradeExporter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GradeExporter{url: url, client: client}
}

type gradeBatch struct {
	InstanceID int64          `json:"instanceId"`
	Grades     []domain.Grade `json:"grades"`
}

func (e *GradeExporter) Export(ctx context.Context, instanceID int64, grades []domain.Grade) error {
	body, err := json.Marshal(gradeBatch{InstanceID: instanceID, Grades: grades})
	if err != nil {
		return fmt.Errorf("marshal grades: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("export grades: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("export grades: grade book answered %s", resp.Status)
	}
	return nil
}
