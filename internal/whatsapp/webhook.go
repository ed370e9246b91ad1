package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// InboundMessage is the distilled content of a webhook delivery.
type InboundMessage struct {
	MessageID          string
	From               string
	SenderName         string
	Text               string
	ContentType        string
	PhoneNumberID      string
	DisplayPhoneNumber string
	Timestamp          string
}

// webhookPayload mirrors the Graph API webhook envelope.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Metadata         struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook extracts the first message from a webhook delivery. Status
// updates and other non-message notifications return (nil, nil) so handlers
// can acknowledge them without further work.
func ParseWebhook(body []byte) (*InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal webhook: %w", err)
	}

	if payload.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("unexpected webhook object %q", payload.Object)
	}

	if len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return nil, nil
	}

	value := payload.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		// Delivery/read status notification
		return nil, nil
	}

	msg := value.Messages[0]
	inbound := &InboundMessage{
		MessageID:          msg.ID,
		From:               msg.From,
		Text:               msg.Text.Body,
		ContentType:        msg.Type,
		PhoneNumberID:      value.Metadata.PhoneNumberID,
		DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
		Timestamp:          msg.Timestamp,
	}

	if len(value.Contacts) > 0 {
		inbound.SenderName = value.Contacts[0].Profile.Name
	}

	return inbound, nil
}

// VerifyToken handles the webhook subscription handshake. It returns the
// challenge to echo back, or an error when mode or token do not match.
func VerifyToken(mode, token, challenge, expectedToken string) (string, error) {
	if mode != "subscribe" {
		return "", fmt.Errorf("unexpected hub.mode %q", mode)
	}
	if expectedToken == "" || token != expectedToken {
		return "", fmt.Errorf("verify token mismatch")
	}
	return challenge, nil
}

// ValidateSignature checks the X-Hub-Signature-256 header against the raw
// request body using the app secret. An empty secret disables validation.
func ValidateSignature(body []byte, header, appSecret string) error {
	if appSecret == "" {
		return nil
	}

	signature := strings.TrimPrefix(header, "sha256=")
	if signature == header || signature == "" {
		return fmt.Errorf("missing sha256 signature")
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
