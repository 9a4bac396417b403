package provider

import (
	"context"
	"fmt"
	"net/url"
)

// TaskStatus is the provider's lifecycle state for an async video task.
type TaskStatus string

const (
	TaskStatusQueueing   TaskStatus = "Queueing"
	TaskStatusPreparing  TaskStatus = "Preparing"
	TaskStatusProcessing TaskStatus = "Processing"
	TaskStatusSuccess    TaskStatus = "Success"
	TaskStatusFailed     TaskStatus = "Fail"
)

// Terminal reports whether the provider is done with the task.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed
}

// VideoRequest describes a text-to-video generation submission.
type VideoRequest struct {
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration,omitempty"`
}

// VideoStatus is one observation of an async video task.
type VideoStatus struct {
	TaskID      string
	Status      TaskStatus
	FileID      string
	DownloadURL string
	Width       int
	Height      int
}

// SubmitVideo submits a text-to-video task and returns the provider's task
// identifier. Completion is observed out-of-band via QueryVideo.
func (c *Client) SubmitVideo(ctx context.Context, req *VideoRequest) (string, error) {
	var resp struct {
		TaskID   string    `json:"task_id"`
		BaseResp *baseResp `json:"base_resp"`
	}
	if err := c.request(ctx, "POST", "/v1/video_generation", req, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("provider returned empty task id")
	}
	return resp.TaskID, nil
}

// QueryVideo fetches the current state of a submitted video task. On success
// it resolves the output file to a download URL.
func (c *Client) QueryVideo(ctx context.Context, taskID string) (*VideoStatus, error) {
	var resp struct {
		TaskID   string     `json:"task_id"`
		Status   TaskStatus `json:"status"`
		FileID   string     `json:"file_id,omitempty"`
		Width    int        `json:"video_width,omitempty"`
		Height   int        `json:"video_height,omitempty"`
		BaseResp *baseResp  `json:"base_resp,omitempty"`
	}
	path := "/v1/query/video_generation?task_id=" + url.QueryEscape(taskID)
	if err := c.request(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}

	status := &VideoStatus{
		TaskID: resp.TaskID,
		Status: resp.Status,
		FileID: resp.FileID,
		Width:  resp.Width,
		Height: resp.Height,
	}
	if resp.Status == TaskStatusSuccess && resp.FileID != "" {
		downloadURL, err := c.retrieveFileURL(ctx, resp.FileID)
		if err != nil {
			c.logger.Warn("File retrieve failed for task %s file %s: %v", taskID, resp.FileID, err)
		} else {
			status.DownloadURL = downloadURL
		}
	}
	return status, nil
}

// retrieveFileURL resolves a provider file id to its download URL.
func (c *Client) retrieveFileURL(ctx context.Context, fileID string) (string, error) {
	var resp struct {
		File struct {
			DownloadURL string `json:"download_url"`
		} `json:"file"`
		BaseResp *baseResp `json:"base_resp,omitempty"`
	}
	path := "/v1/files/retrieve?file_id=" + url.QueryEscape(fileID)
	if err := c.request(ctx, "GET", path, nil, &resp); err != nil {
		return "", err
	}
	return resp.File.DownloadURL, nil
}
