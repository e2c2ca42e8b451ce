package whatsapp

import (
	"context"
	"fmt"
	"net/http"
)

// MediaSource references a media asset either by a previously uploaded id or
// by a public link. Exactly one of ID or Link should be set.
type MediaSource struct {
	ID       string
	Link     string
	Caption  string
	Filename string
}

func (m MediaSource) toPayload() map[string]any {
	payload := map[string]any{}
	if m.ID != "" {
		payload["id"] = m.ID
	} else {
		payload["link"] = m.Link
	}
	if m.Caption != "" {
		payload["caption"] = m.Caption
	}
	if m.Filename != "" {
		payload["filename"] = m.Filename
	}
	return payload
}

// ReplyButton is one quick-reply button of an interactive message.
type ReplyButton struct {
	ID    string
	Title string
}

// SendText sends a plain text message.
func (c *APIClient) SendText(ctx context.Context, to, body string, previewURL bool) (*SendMessageResponse, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"body":        body,
			"preview_url": previewURL,
		},
	}
	return c.Send(ctx, http.MethodPost, c.messagesEndpoint(), payload)
}

// SendImage sends an image by id or link.
func (c *APIClient) SendImage(ctx context.Context, to string, media MediaSource) (*SendMessageResponse, error) {
	return c.sendMedia(ctx, to, "image", media)
}

// SendDocument sends a document by id or link.
func (c *APIClient) SendDocument(ctx context.Context, to string, media MediaSource) (*SendMessageResponse, error) {
	return c.sendMedia(ctx, to, "document", media)
}

// SendAudio sends an audio clip by id or link.
func (c *APIClient) SendAudio(ctx context.Context, to string, media MediaSource) (*SendMessageResponse, error) {
	return c.sendMedia(ctx, to, "audio", media)
}

func (c *APIClient) sendMedia(ctx context.Context, to, mediaType string, media MediaSource) (*SendMessageResponse, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              mediaType,
		mediaType:           media.toPayload(),
	}
	return c.Send(ctx, http.MethodPost, c.messagesEndpoint(), payload)
}

// SendLocation sends a location pin.
func (c *APIClient) SendLocation(ctx context.Context, to string, lat, lng float64, name, address string) (*SendMessageResponse, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "location",
		"location": map[string]any{
			"latitude":  lat,
			"longitude": lng,
			"name":      name,
			"address":   address,
		},
	}
	return c.Send(ctx, http.MethodPost, c.messagesEndpoint(), payload)
}

// SendInteractiveButtons sends a button-based interactive message. The Cloud
// API allows at most three buttons per message.
func (c *APIClient) SendInteractiveButtons(ctx context.Context, to, body string, buttons []ReplyButton) (*SendMessageResponse, error) {
	rendered := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		rendered = append(rendered, map[string]any{
			"type": "reply",
			"reply": map[string]any{
				"id":    b.ID,
				"title": b.Title,
			},
		})
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type": "button",
			"body": map[string]any{"body": body},
			"action": map[string]any{
				"buttons": rendered,
			},
		},
	}
	return c.Send(ctx, http.MethodPost, c.messagesEndpoint(), payload)
}

// SendReaction reacts to an earlier message with an emoji. An empty emoji
// removes a previous reaction.
func (c *APIClient) SendReaction(ctx context.Context, to, messageID, emoji string) (*SendMessageResponse, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "reaction",
		"reaction": map[string]any{
			"message_id": messageID,
			"emoji":      emoji,
		},
	}
	return c.Send(ctx, http.MethodPost, c.messagesEndpoint(), payload)
}

// MarkMessageRead sends a read receipt for an inbound message.
func (c *APIClient) MarkMessageRead(ctx context.Context, messageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	_, err := c.Send(ctx, http.MethodPost, c.messagesEndpoint(), payload)
	return err
}

// mediaURLResponse mirrors the media lookup response.
type mediaURLResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// GetMediaURL resolves a short-lived download URL for an inbound media id.
func (c *APIClient) GetMediaURL(ctx context.Context, mediaID string) (string, error) {
	result := new(mediaURLResponse)
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr).
		Get(mediaID)
	if err != nil {
		return "", fmt.Errorf("resolve media url: %w", err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		return "", &ProviderError{
			StatusCode: resp.StatusCode(),
			Code:       apiErr.Error.Code,
			Type:       apiErr.Error.Type,
			Message:    apiErr.Error.Message,
		}
	}
	return result.URL, nil
}
