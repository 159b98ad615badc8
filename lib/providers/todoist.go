/*
Copyright 2025 Pulse Technologies, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package providers

import (
	"context"
	"net/http"

	"github.com/gravitational/trace"

	"github.com/pulsehq/pulse"
)

// todoistAPIURL is the default task tracker API base.
const todoistAPIURL = "https://api.todoist.com/rest/v2"

// TodoistConfig configures the task tracker adapter.
type TodoistConfig struct {
	Client  *http.Client
	BaseURL string
}

func (c *TodoistConfig) checkAndSetDefaults() {
	if c.Client == nil {
		c.Client = NewHTTPClient()
	}
	if c.BaseURL == "" {
		c.BaseURL = todoistAPIURL
	}
}

// Todoist fetches the account's tasks.
type Todoist struct {
	cfg TodoistConfig
}

// NewTodoist returns the task tracker adapter.
func NewTodoist(cfg TodoistConfig) *Todoist {
	cfg.checkAndSetDefaults()
	return &Todoist{cfg: cfg}
}

// Platform implements Provider.
func (t *Todoist) Platform() pulse.Platform { return pulse.PlatformTodoist }

type todoistTask struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	ProjectID string `json:"project_id"`
	CreatedAt string `json:"created_at"`
	Due       *struct {
		Date string `json:"date"`
	} `json:"due"`
	Priority    int    `json:"priority"`
	URL         string `json:"url"`
	IsCompleted bool   `json:"is_completed"`
}

// Fetch implements Provider.
func (t *Todoist) Fetch(ctx context.Context, token string) (*Envelope, error) {
	var tasks []todoistTask
	if _, err := getJSON(ctx, t.cfg.Client, t.cfg.BaseURL+"/tasks", token, nil, &tasks); err != nil {
		return nil, trace.Wrap(err)
	}

	raw := &TodoistRaw{}
	for _, task := range tasks {
		out := TodoistTask{
			ID:        task.ID,
			Content:   task.Content,
			ProjectID: task.ProjectID,
			CreatedAt: task.CreatedAt,
			Priority:  task.Priority,
			URL:       task.URL,
			Completed: task.IsCompleted,
		}
		if task.Due != nil {
			out.Due = task.Due.Date
		}
		raw.Tasks = append(raw.Tasks, out)
	}
	return &Envelope{Payload: raw}, nil
}
