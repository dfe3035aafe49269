package notifs

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/abevier/tsk/ratelimiter"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/webhook"
	"github.com/disgoorg/snowflake/v2"

	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/models"
)

var _ models.Notifier = &DiscordHandler{}

type DiscordColor int

const (
	DiscordColor_Warning DiscordColor = 16776960
	DiscordColor_Alert   DiscordColor = 16711712
)

const DiscordPacing = 2 * time.Second

const discordRateLimit = 1
const discordBurstLimit = 5
const discordMaxQueueDepth = 50
const discordMaxContentLength = 4000

type notifTask struct {
	webhook webhook.Client
	title   string
	desc    string
	content string
	color   DiscordColor
}

type DiscordHandler struct {
	alertWebhook   webhook.Client
	warningWebhook webhook.Client
	testWebhook    webhook.Client
	limiter        *ratelimiter.RateLimiter[any, any]
	logger         models.Logger
}

func NewDiscordHandler(logger models.Logger) (*DiscordHandler, error) {
	if a, err := parseDiscordWebhookUrl(common.Env_DiscordAlert); err != nil {
		return nil, err
	} else if w, err := parseDiscordWebhookUrl(common.Env_DiscordWarning); err != nil {
		return nil, err
	} else if t, err := parseDiscordWebhookUrl(common.Env_DiscordTest); err != nil {
		return nil, err
	} else {
		d := DiscordHandler{alertWebhook: a, warningWebhook: w, testWebhook: t, logger: logger}
		d.limiter = ratelimiter.New(ratelimiter.Opts{
			Limit:             discordRateLimit,
			Burst:             discordBurstLimit,
			MaxQueueDepth:     discordMaxQueueDepth,
			FullQueueStrategy: ratelimiter.BlockWhenFull,
		}, d.limiterRunFunction)
		return &d, nil
	}
}

func parseDiscordWebhookUrl(urlEnv string) (webhook.Client, error) {
	webhookUrl := os.Getenv(urlEnv)
	if len(webhookUrl) > 0 {
		if parsedUrl, err := url.Parse(webhookUrl); err != nil {
			return nil, err
		} else {
			urlParts := strings.Split(parsedUrl.Path, "/")
			if len(urlParts) < 2 {
				return nil, fmt.Errorf("notifs: invalid webhook url in %s", urlEnv)
			}
			if id, err := snowflake.Parse(urlParts[len(urlParts)-2]); err != nil {
				return nil, err
			} else {
				return webhook.New(id, urlParts[len(urlParts)-1]), nil
			}
		}
	}
	return nil, nil
}

func (d DiscordHandler) SendAlert(title, desc, content string) error {
	if d.alertWebhook != nil {
		if err := d.sendNotif(d.alertWebhook, title, desc, content, DiscordColor_Alert); err != nil {
			return err
		}
	}
	// Always duplicate notifications to the test channel, if configured.
	if d.testWebhook != nil {
		return d.sendNotif(d.testWebhook, title, desc, content, DiscordColor_Alert)
	}
	return nil
}

// SendWarning is for problems that need a look but did not stop an operation.
func (d DiscordHandler) SendWarning(title, desc, content string) error {
	if d.warningWebhook != nil {
		return d.sendNotif(d.warningWebhook, title, desc, content, DiscordColor_Warning)
	}
	return nil
}

func (d DiscordHandler) sendNotif(wh webhook.Client, title, desc, content string, color DiscordColor) error {
	ctx, cancel := context.WithTimeout(context.Background(), common.DefaultRpcWaitTime)
	defer cancel()

	_, err := d.limiter.Submit(ctx, notifTask{wh, title, desc, content, color})
	return err
}

func (d DiscordHandler) limiterRunFunction(_ context.Context, task any) (any, error) {
	notif, ok := task.(notifTask)
	if !ok {
		return nil, fmt.Errorf("notifs: unknown task received %v", task)
	}
	_, err := notif.webhook.CreateMessage(discord.NewWebhookMessageCreateBuilder().
		SetEmbeds(notifEmbed(notif.title, notif.desc, notif.content, notif.color)).
		SetUsername(common.ServiceName).
		Build(),
		rest.WithDelay(DiscordPacing),
	)
	if err != nil {
		d.logger.Errorf("notifs: error sending discord notification: %v, %s, %s", err, notif.title, notif.desc)
		return nil, err
	}
	return nil, nil
}

func notifEmbed(title, desc, content string, color DiscordColor) discord.Embed {
	if utf8.RuneCountInString(content) > discordMaxContentLength {
		content = string([]rune(content)[:discordMaxContentLength]) + "..."
	}
	embed := discord.Embed{
		Title:       title,
		Description: desc,
		Type:        discord.EmbedTypeRich,
		Color:       int(color),
	}
	if len(content) > 0 {
		embed.Fields = []discord.EmbedField{{Name: "Details", Value: "```" + content + "```"}}
	}
	return embed
}
