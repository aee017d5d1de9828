package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/technosupport/intellioptics/internal/data"
)

// ChannelDispatcher is the default Dispatcher: email via SMTP, SMS via
// a configured HTTP gateway (no telephony SDK appears in the example
// corpus, so this speaks the generic JSON-webhook shape most SMS
// gateways expose over HTTP — documented in DESIGN.md), and webhooks
// via a plain POST.
type ChannelDispatcher struct {
	SMTPAddr     string
	SMTPFrom     string
	SMTPAuth     smtp.Auth
	SMSGatewayURL string
	HTTPClient   *http.Client
}

func NewChannelDispatcher(smtpAddr, smtpFrom string, auth smtp.Auth, smsGatewayURL string) *ChannelDispatcher {
	return &ChannelDispatcher{
		SMTPAddr:      smtpAddr,
		SMTPFrom:      smtpFrom,
		SMTPAuth:      auth,
		SMSGatewayURL: smsGatewayURL,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *ChannelDispatcher) Send(ctx context.Context, channel data.AlertChannel, destination, message, imagePath string) error {
	switch channel {
	case data.ChannelEmail:
		return d.sendEmail(destination, message)
	case data.ChannelSMS:
		return d.sendSMS(ctx, destination, message, imagePath)
	case data.ChannelWebhook:
		return d.sendWebhook(ctx, destination, message, imagePath)
	default:
		return fmt.Errorf("alerts: unknown channel %q", channel)
	}
}

func (d *ChannelDispatcher) sendEmail(to, message string) error {
	if d.SMTPAddr == "" {
		return fmt.Errorf("alerts: smtp not configured")
	}
	body := fmt.Sprintf("To: %s\r\nSubject: IntelliOptics Alert\r\nContent-Type: text/html\r\n\r\n<p>%s</p>", to, message)
	return smtp.SendMail(d.SMTPAddr, d.SMTPAuth, d.SMTPFrom, []string{to}, []byte(body))
}

// smsPayload is the generic shape accepted by most carrier/aggregator
// SMS-over-HTTP gateways; optionally MMS when imagePath is set (§4.11
// step 6: "send ... SMS (optionally MMS with image)").
type smsPayload struct {
	To       string `json:"to"`
	Body     string `json:"body"`
	MediaURL string `json:"media_url,omitempty"`
}

func (d *ChannelDispatcher) sendSMS(ctx context.Context, to, message, imagePath string) error {
	if d.SMSGatewayURL == "" {
		return fmt.Errorf("alerts: sms gateway not configured")
	}
	payload, err := json.Marshal(smsPayload{To: to, Body: message, MediaURL: imagePath})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.SMSGatewayURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alerts: sms gateway returned %d", resp.StatusCode)
	}
	return nil
}

type webhookPayload struct {
	Message   string `json:"message"`
	ImagePath string `json:"image_path,omitempty"`
}

func (d *ChannelDispatcher) sendWebhook(ctx context.Context, url, message, imagePath string) error {
	payload, err := json.Marshal(webhookPayload{Message: message, ImagePath: imagePath})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alerts: webhook returned %d", resp.StatusCode)
	}
	return nil
}
