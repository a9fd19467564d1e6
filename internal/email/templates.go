package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coinspree/ath-notifier/internal/logging"
	"github.com/coinspree/ath-notifier/internal/models"
	"github.com/coinspree/ath-notifier/internal/storage"
)

// templatesKey is the Redis hash holding one template per job type.
const templatesKey = "email:templates"

// Template is a renderable email body with {{placeholder}} slots.
type Template struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Render substitutes {{key}} placeholders from data in all three parts.
func (t *Template) Render(data map[string]string) *Template {
	return &Template{
		Subject: substitute(t.Subject, data),
		HTML:    substitute(t.HTML, data),
		Text:    substitute(t.Text, data),
	}
}

func substitute(s string, data map[string]string) string {
	for key, value := range data {
		s = strings.ReplaceAll(s, "{{"+key+"}}", value)
	}
	return s
}

// TemplateStore resolves templates by job type from the Redis template hash,
// falling back to built-in defaults when the store is unreachable or has no
// entry for the type.
type TemplateStore struct {
	redis *storage.RedisStore
}

// NewTemplateStore creates a template store.
func NewTemplateStore(redis *storage.RedisStore) *TemplateStore {
	return &TemplateStore{redis: redis}
}

// Resolve returns the template for a job type. It never fails: any problem
// reading the store falls back to the built-in default.
func (s *TemplateStore) Resolve(ctx context.Context, jobType models.EmailJobType) *Template {
	raw, err := s.redis.Client().HGet(ctx, templatesKey, string(jobType)).Result()
	if err == nil {
		var tpl Template
		if jsonErr := json.Unmarshal([]byte(raw), &tpl); jsonErr == nil {
			return &tpl
		}
		logging.FromContext(ctx).WithField("type", string(jobType)).Warn("Corrupt stored template, using default")
	}
	return defaultTemplate(jobType)
}

func defaultTemplate(jobType models.EmailJobType) *Template {
	switch jobType {
	case models.JobATHNotification:
		return &Template{
			Subject: "🚀 {{name}} just hit a new all-time high!",
			HTML: "<h2>{{name}} ({{symbol}}) hit a new all-time high</h2>" +
				"<p>New ATH: <strong>${{newAth}}</strong> (previous: ${{previousAth}}, +{{percentageIncrease}}%)</p>" +
				"<p>Happy trading,<br>The CoinSpree team</p>",
			Text: "{{name}} ({{symbol}}) hit a new all-time high: ${{newAth}} " +
				"(previous: ${{previousAth}}, +{{percentageIncrease}}%).",
		}
	case models.JobWelcome:
		return &Template{
			Subject: "Welcome to CoinSpree, {{userName}}!",
			HTML:    "<p>Hi {{userName}},</p><p>You're all set. We'll email you the moment a tracked coin breaks its all-time high.</p>",
			Text:    "Hi {{userName}}, you're all set. We'll email you the moment a tracked coin breaks its all-time high.",
		}
	case models.JobSubscriptionExpiry:
		return &Template{
			Subject: "Your CoinSpree subscription expires on {{endDate}}",
			HTML:    "<p>Hi {{userName}},</p><p>Your subscription ends on {{endDate}}. Renew to keep receiving ATH alerts.</p>",
			Text:    "Hi {{userName}}, your subscription ends on {{endDate}}. Renew to keep receiving ATH alerts.",
		}
	case models.JobPasswordReset:
		return &Template{
			Subject: "Reset your CoinSpree password",
			HTML:    "<p>Hi {{userName}},</p><p><a href=\"{{resetUrl}}\">Reset your password</a>. The link expires in one hour.</p>",
			Text:    "Hi {{userName}}, reset your password here: {{resetUrl}} (expires in one hour).",
		}
	default:
		return &Template{
			Subject: "CoinSpree notification",
			Text:    "You have a new notification from CoinSpree.",
		}
	}
}

// templateData builds the substitution map for a decoded job payload.
func templateData(recipient *models.User, payload interface{}) map[string]string {
	data := map[string]string{
		"userName": recipient.Name,
	}
	switch p := payload.(type) {
	case *models.ATHNotificationData:
		data["name"] = p.Name
		data["symbol"] = strings.ToUpper(p.Symbol)
		data["newAth"] = formatPrice(p.NewATH)
		data["previousAth"] = formatPrice(p.PreviousATH)
		data["percentageIncrease"] = fmt.Sprintf("%.2f", p.PercentageIncrease)
	case *models.WelcomeData:
		if p.Name != "" {
			data["userName"] = p.Name
		}
	case *models.SubscriptionExpiryData:
		if p.Name != "" {
			data["userName"] = p.Name
		}
		data["endDate"] = p.EndDate.Format(time.DateOnly)
	case *models.PasswordResetData:
		if p.Name != "" {
			data["userName"] = p.Name
		}
		data["resetUrl"] = p.ResetURL
	}
	return data
}

func formatPrice(v float64) string {
	if v >= 1 {
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("%.6f", v)
}
