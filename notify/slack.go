package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Posts moderator-facing notifications to a slack channel via an "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace. User-facing kinds (appeal decisions) are skipped.
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
}

type slackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.Kind == KindAppealDecision {
		return nil
	}
	return n.sendSlackMsg(ctx, slackBody(msg))
}

func (n *SlackNotifier) sendSlackMsg(ctx context.Context, text string) error {
	body, err := json.Marshal(slackWebhookBody{Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(msg Message) string {
	out := "⚠️ Moderation: " + msg.Subject + " ⚠️\n"
	if msg.Body != "" {
		out += msg.Body + "\n"
	}
	keys := make([]string, 0, len(msg.Fields))
	for k := range msg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=`%s`", k, msg.Fields[k]))
	}
	if len(parts) > 0 {
		out += strings.Join(parts, " / ") + "\n"
	}
	return out
}
