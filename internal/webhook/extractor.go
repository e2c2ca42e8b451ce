package webhook

import (
	"github.com/adiouf/wabridge/internal/domain/models"
)

// unknownSender is used when the envelope carries no contact information for a
// message; extraction degrades instead of failing.
const unknownSender = "unknown"

// Extract flattens a webhook envelope into its ordered list of events: one per
// inbound message, one per status receipt, one per top-level error, preserving
// envelope order throughout. No deduplication is performed; a redelivered
// provider event yields a duplicate ExtractedEvent and idempotence is the
// caller's concern.
func Extract(envelope models.WebhookEnvelope) []models.ExtractedEvent {
	var events []models.ExtractedEvent

	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			value := change.Value

			for _, msg := range value.Messages {
				events = append(events, extractMessage(value, msg))
			}

			for _, status := range value.Statuses {
				st := status
				events = append(events, models.ExtractedEvent{
					Type:               models.StatusEventType(status.Status),
					Timestamp:          models.ParseEpochSeconds(status.Timestamp),
					PhoneNumberID:      value.Metadata.PhoneNumberID,
					DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
					WaID:               status.RecipientID,
					ConversationID:     status.RecipientID,
					MessageID:          status.ID,
					Content:            models.EventContent{Kind: models.ContentNone},
					Status:             &st,
					Raw:                status,
				})
			}

			for _, werr := range value.Errors {
				we := werr
				events = append(events, models.ExtractedEvent{
					Type:               models.EventSystemError,
					Timestamp:          models.ParseEpochSeconds(""),
					PhoneNumberID:      value.Metadata.PhoneNumberID,
					DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
					WaID:               unknownSender,
					ConversationID:     unknownSender,
					Content:            models.EventContent{Kind: models.ContentNone},
					Error:              &we,
					Raw:                werr,
				})
			}
		}
	}

	return events
}

func extractMessage(value models.WebhookValue, msg models.InboundMessage) models.ExtractedEvent {
	waID, displayName := senderIdentity(value, msg)
	eventType, content := classifyContent(msg)

	return models.ExtractedEvent{
		Type:               eventType,
		Timestamp:          models.ParseEpochSeconds(msg.Timestamp),
		PhoneNumberID:      value.Metadata.PhoneNumberID,
		DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
		WaID:               waID,
		DisplayName:        displayName,
		MessageID:          msg.ID,
		ConversationID:     waID,
		Content:            content,
		Raw:                msg,
	}
}

// senderIdentity resolves the sender from the contacts array, falling back to
// the message From field, then to the declared unknown identity.
func senderIdentity(value models.WebhookValue, msg models.InboundMessage) (waID, displayName string) {
	for _, contact := range value.Contacts {
		if contact.WaID == msg.From || len(value.Contacts) == 1 {
			return contact.WaID, contact.Profile.Name
		}
	}
	if msg.From != "" {
		return msg.From, ""
	}
	return unknownSender, ""
}

// classifyContent applies the first-match-wins content detection order:
// text, image, video, audio, voice, document, sticker, location, contacts,
// interactive, reaction. The order is a fixed policy; note that a voice note
// arriving in the audio field with the voice flag set still classifies as
// audio because audio is checked first.
func classifyContent(msg models.InboundMessage) (models.EventType, models.EventContent) {
	switch {
	case msg.Text != nil:
		return models.EventMessageText, models.EventContent{Kind: models.ContentText, Text: msg.Text}
	case msg.Image != nil:
		return models.EventMessageImage, models.EventContent{Kind: models.ContentMedia, Media: msg.Image}
	case msg.Video != nil:
		return models.EventMessageVideo, models.EventContent{Kind: models.ContentMedia, Media: msg.Video}
	case msg.Audio != nil:
		return models.EventMessageAudio, models.EventContent{Kind: models.ContentMedia, Media: msg.Audio}
	case msg.Voice != nil:
		return models.EventMessageVoice, models.EventContent{Kind: models.ContentMedia, Media: msg.Voice}
	case msg.Document != nil:
		return models.EventMessageDocument, models.EventContent{Kind: models.ContentMedia, Media: msg.Document}
	case msg.Sticker != nil:
		return models.EventMessageSticker, models.EventContent{Kind: models.ContentMedia, Media: msg.Sticker}
	case msg.Location != nil:
		return models.EventMessageLocation, models.EventContent{Kind: models.ContentLocation, Location: msg.Location}
	case len(msg.Contacts) > 0:
		return models.EventMessageContacts, models.EventContent{Kind: models.ContentContacts, Contacts: msg.Contacts}
	case msg.Interactive != nil:
		return models.EventMessageInteractive, models.EventContent{Kind: models.ContentInteractive, Interactive: msg.Interactive}
	case msg.Reaction != nil:
		return models.EventMessageReaction, models.EventContent{Kind: models.ContentReaction, Reaction: msg.Reaction}
	default:
		return models.EventMessageUnknown, models.EventContent{Kind: models.ContentNone}
	}
}
