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

package sms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/rentcycle/internal/apierror"
	"github.com/jerry-enebeli/rentcycle/internal/request"
)

// DefaultTwilioBaseURL is the Twilio REST API root.
const DefaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	From           string
	StatusCallback string
	BaseURL        string
}

// TwilioClient sends messages through the Twilio Messages resource.
type TwilioClient struct {
	cfg    TwilioConfig
	client *http.Client
}

type twilioMessage struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	To           string `json:"to"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func NewTwilioClient(cfg TwilioConfig, client *http.Client) *TwilioClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TwilioClient{cfg: cfg, client: client}
}

func (t *TwilioClient) Available() bool {
	return t.cfg.AccountSID != "" && t.cfg.AuthToken != "" && t.cfg.From != ""
}

// Send posts one message. A 2xx response means Twilio queued the message;
// that acceptance is treated as confirmed dispatch.
func (t *TwilioClient) Send(ctx context.Context, to, body string, opts Options) (*Result, error) {
	ctx, span := otel.Tracer("rentcycle.sms").Start(ctx, "Twilio Send")
	defer span.End()
	span.SetAttributes(attribute.String("sms.tag", opts.Tag))

	if !t.Available() {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "sms credentials are not configured", nil)
	}
	number := NormalizePhone(to)
	if number == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, fmt.Sprintf("invalid recipient phone %q", to), nil)
	}

	form := url.Values{}
	form.Set("To", number)
	form.Set("From", t.cfg.From)
	form.Set("Body", body)
	if t.cfg.StatusCallback != "" {
		form.Set("StatusCallback", t.cfg.StatusCallback)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", strings.TrimRight(t.cfg.BaseURL, "/"), t.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, request.ToFormReq(form))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(t.cfg.AccountSID, t.cfg.AuthToken))

	var msg twilioMessage
	if _, err := request.Call(t.client, req, &msg); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if msg.ErrorCode != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation,
			fmt.Sprintf("twilio rejected message: %d %s", *msg.ErrorCode, msg.ErrorMessage), nil)
	}

	logrus.WithFields(logrus.Fields{
		"sid":    msg.SID,
		"status": msg.Status,
		"tag":    opts.Tag,
	}).Debug("sms accepted")

	return &Result{SID: msg.SID, Status: msg.Status, To: number}, nil
}
