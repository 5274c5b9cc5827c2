/*
Copyright 2024 Blnk Finance Authors.

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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/rentcycle/config"
	"github.com/jerry-enebeli/rentcycle/internal/request"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func slackPayload(job string, err error, at time.Time) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "Error From rentcycle", Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Job:*\n%s", job)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", at.Format(time.RFC822))}}},
	}}
}

// SlackNotification posts a job failure to a Slack incoming webhook.
//
// Parameters:
// - ctx: Bounds the webhook call.
// - webhookURL: The Slack incoming webhook URL.
// - job: The job that failed.
// - err: The error to be reported via Slack.
func SlackNotification(ctx context.Context, webhookURL, job string, err error) error {
	payload, perr := request.ToJsonReq(slackPayload(job, err, time.Now()))
	if perr != nil {
		return perr
	}

	req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, payload)
	if rerr != nil {
		return rerr
	}

	_, cerr := request.Call(nil, req, nil)
	return cerr
}

// NotifyError logs a fatal job error and reports it to Slack when a webhook
// is configured. It waits at most five seconds for Slack so the process can
// exit promptly afterwards.
func NotifyError(job string, systemError error) {
	logrus.WithField("job", job).Error(systemError)

	conf, err := config.Fetch()
	if err != nil {
		logrus.Debug(err)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlackNotification(ctx, conf.Notification.Slack.WebhookUrl, job, systemError); err != nil {
		logrus.WithError(err).Warn("failed to send slack notification")
	}
}
