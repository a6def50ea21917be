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
	"encoding/json"
	"fmt"
	"time"

	"github.com/Munozca230/order-processing-system/config"
	"github.com/Munozca230/order-processing-system/internal/request"
	"github.com/sirupsen/logrus"
)

const slackTimeout = 10 * time.Second

func slackPayload(systemError error, at time.Time) json.RawMessage {
	text, _ := json.Marshal(fmt.Sprintf("*Error:*\n%v", systemError.Error()))
	when, _ := json.Marshal(fmt.Sprintf("*Time:*\n%v", at.Format(time.RFC822)))

	return json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Order Worker 🐞",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": %s
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": %s
					}
				]
			}
		]
	}`, text, when))
}

// SlackNotification posts the error to the configured Slack webhook.
func SlackNotification(systemError error) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), slackTimeout)
	defer cancel()

	return request.PostJSON(ctx, nil, conf.Notification.Slack.WebhookUrl, slackPayload(systemError, time.Now()))
}

// NotifyError logs systemError and forwards it to Slack in the background.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)
		if err := SlackNotification(systemError); err != nil {
			logrus.WithError(err).Warn("failed to send slack notification")
		}
	}(systemError)
}
