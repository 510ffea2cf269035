package captionfeed

import (
	"fmt"

	"github.com/slack-go/slack"

	"github.com/almostcrackd/captionfeed/authentication"
)

// NewSlackUploadHook returns an UploadHook announcing new uploads on a Slack
// channel through an incoming webhook.
func NewSlackUploadHook(webhookURL string) UploadHook {
	return func(user *authentication.User, image *Image, captions []*Caption) error {
		text := fmt.Sprintf("%s uploaded <%s|%s>, %d captions generated",
			user.Login, image.DisplayURL(), image.DisplayTitle(), len(captions))

		return slack.PostWebhook(webhookURL, &slack.WebhookMessage{Text: text})
	}
}
