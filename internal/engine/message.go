package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Relay/internal/domain"
)

// DefaultMessageTag — тег сообщения, если узел его не задаёт.
const DefaultMessageTag = "ACCOUNT_UPDATE"

// Формат Send API.
type (
	outboundMessage struct {
		MessagingType string         `json:"messaging_type"`
		Tag           string         `json:"tag"`
		Message       messageContent `json:"message"`
	}

	messageContent struct {
		Text       string      `json:"text,omitempty"`
		Attachment *attachment `json:"attachment,omitempty"`
	}

	attachment struct {
		Type    string          `json:"type"`
		Payload templatePayload `json:"payload"`
	}

	templatePayload struct {
		TemplateType string          `json:"template_type"`
		Text         string          `json:"text,omitempty"`
		Buttons      []buttonPayload `json:"buttons,omitempty"`
		Elements     []element       `json:"elements,omitempty"`
	}

	buttonPayload struct {
		Type    string `json:"type"`
		Title   string `json:"title"`
		Payload string `json:"payload,omitempty"`
		URL     string `json:"url,omitempty"`
	}

	element struct {
		Title         string          `json:"title"`
		ImageURL      string          `json:"image_url,omitempty"`
		Subtitle      string          `json:"subtitle,omitempty"`
		DefaultAction *defaultAction  `json:"default_action,omitempty"`
		Buttons       []buttonPayload `json:"buttons,omitempty"`
	}

	defaultAction struct {
		Type               string `json:"type"`
		URL                string `json:"url"`
		WebviewHeightRatio string `json:"webview_height_ratio"`
	}
)

// BuildMessage строит тело запроса к провайдеру (без recipient) для
// text или card узла.
//
// Text без кнопок — простой текст, с кнопками — button template.
// Card — generic template из одного элемента.
func BuildMessage(node *domain.Node) (json.RawMessage, error) {
	msg := outboundMessage{MessagingType: "MESSAGE_TAG"}

	switch data := node.Data.(type) {
	case *domain.TextData:
		msg.Tag = tagOrDefault(data.MessageType)
		if len(data.Buttons) == 0 {
			msg.Message.Text = data.Text
			break
		}
		msg.Message.Attachment = &attachment{
			Type: "template",
			Payload: templatePayload{
				TemplateType: "button",
				Text:         data.Text,
				Buttons:      buildButtons(data.Buttons, ""),
			},
		}

	case *domain.CardData:
		msg.Tag = tagOrDefault(data.MessageType)
		el := element{
			Title:    data.Title,
			ImageURL: data.ImageURL,
			Subtitle: data.Subtitle,
			Buttons:  buildButtons(data.Buttons, data.URL),
		}
		if data.URL != "" {
			el.DefaultAction = &defaultAction{
				Type:               "web_url",
				URL:                data.URL,
				WebviewHeightRatio: "tall",
			}
		}
		msg.Message.Attachment = &attachment{
			Type: "template",
			Payload: templatePayload{
				TemplateType: "generic",
				Elements:     []element{el},
			},
		}

	default:
		return nil, NewValidationError(node.ID, "type",
			fmt.Sprintf("node type %q does not produce messages", node.Type), ErrUnknownNodeType)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message for node %s: %w", node.ID, err)
	}
	return b, nil
}

// buildButtons переводит кнопки узла в кнопки шаблона.
// Для web_url без адреса используется fallbackURL.
func buildButtons(buttons []domain.Button, fallbackURL string) []buttonPayload {
	if len(buttons) == 0 {
		return nil
	}
	out := make([]buttonPayload, 0, len(buttons))
	for _, b := range buttons {
		if b.IsPostback() {
			out = append(out, buttonPayload{Type: "postback", Title: b.Label, Payload: b.Message})
			continue
		}
		url := b.URL
		if url == "" {
			url = fallbackURL
		}
		out = append(out, buttonPayload{Type: "web_url", Title: b.Label, URL: url})
	}
	return out
}

func tagOrDefault(tag string) string {
	if tag == "" {
		return DefaultMessageTag
	}
	return tag
}
