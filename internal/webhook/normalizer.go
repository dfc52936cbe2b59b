package webhook

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"imovia/pkg/models"

	"github.com/rs/zerolog"
)

// Payload is the vendor's batched webhook body
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one account-level batch inside a webhook delivery
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change carries one field's worth of events
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue holds the messages and contacts of a change
type ChangeValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []Contact    `json:"contacts"`
	Messages []RawMessage `json:"messages"`
	Statuses []RawStatus  `json:"statuses"`
}

// Contact maps a sender address to its profile name
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// RawMessage is one vendor message object. Exactly one of the per-kind
// containers is set, matching Type.
type RawMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Text *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *RawMedia `json:"image,omitempty"`
	Video    *RawMedia `json:"video,omitempty"`
	Document *RawMedia `json:"document,omitempty"`
	Audio    *RawMedia `json:"audio,omitempty"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name,omitempty"`
		Address   string  `json:"address,omitempty"`
	} `json:"location,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

// RawMedia is the vendor's media container
type RawMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// RawStatus is a delivery acknowledgement for an outbound message
type RawStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"` // sent, delivered, read, failed
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// AgentDirectory answers whether a phone belongs to a registered agent's
// personal device
type AgentDirectory interface {
	IsAgentPhone(phone string) (bool, error)
}

// Normalizer converts vendor payloads into canonical InboundMessage
// envelopes and classifies senders as customer vs. agent
type Normalizer struct {
	agents AgentDirectory
	logger zerolog.Logger
}

// NewNormalizer creates a normalizer with an explicit agent lookup
func NewNormalizer(agents AgentDirectory, logger zerolog.Logger) *Normalizer {
	return &Normalizer{agents: agents, logger: logger}
}

// Normalize extracts every customer message from the batched payload.
// Agent-originated messages (sent from an agent's personal number) are
// logged and dropped: they cannot be reliably attributed to a specific
// conversation, so agents must use the portal takeover channel instead.
func (n *Normalizer) Normalize(payload *Payload) []models.InboundMessage {
	var out []models.InboundMessage

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			value := change.Value

			for _, st := range value.Statuses {
				n.logger.Debug().
					Str("external_id", st.ID).
					Str("status", st.Status).
					Msg("delivery status update")
			}

			names := make(map[string]string, len(value.Contacts))
			for _, contact := range value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			for _, raw := range value.Messages {
				fromAgent, err := n.agents.IsAgentPhone(raw.From)
				if err != nil {
					n.logger.Error().Err(err).Str("from", raw.From).Msg("agent lookup failed, treating sender as customer")
				} else if fromAgent {
					n.logger.Info().
						Str("external_id", raw.ID).
						Str("from", raw.From).
						Msg("agent-originated message dropped, use the takeover channel")
					continue
				}

				msg, err := normalizeOne(raw)
				if err != nil {
					n.logger.Warn().Err(err).
						Str("external_id", raw.ID).
						Str("type", raw.Type).
						Msg("skipping unsupported message")
					continue
				}

				msg.ToAddress = value.Metadata.DisplayPhoneNumber
				msg.SenderName = names[raw.From]
				out = append(out, msg)
			}
		}
	}

	return out
}

// normalizeOne resolves the vendor's per-kind containers into the canonical
// envelope. This is the only place the untyped vendor shape is interpreted.
func normalizeOne(raw RawMessage) (models.InboundMessage, error) {
	msg := models.InboundMessage{
		ExternalID:  raw.ID,
		FromAddress: raw.From,
		ReceivedAt:  parseTimestamp(raw.Timestamp),
	}

	switch raw.Type {
	case models.KindText:
		if raw.Text == nil {
			return msg, fmt.Errorf("text message without text body")
		}
		msg.Kind = models.KindText
		msg.Body = raw.Text.Body

	case models.KindImage, models.KindVideo, models.KindDocument, models.KindAudio:
		media := raw.mediaFor(raw.Type)
		if media == nil {
			return msg, fmt.Errorf("%s message without media container", raw.Type)
		}
		msg.Kind = raw.Type
		msg.MediaRef = media.ID
		msg.Body = media.Caption
		if msg.Body == "" && media.Filename != "" {
			msg.Body = media.Filename
		}

	case models.KindLocation:
		if raw.Location == nil {
			return msg, fmt.Errorf("location message without coordinates")
		}
		msg.Kind = models.KindLocation
		msg.Body = strings.TrimSpace(fmt.Sprintf("%f,%f %s", raw.Location.Latitude, raw.Location.Longitude, raw.Location.Name))

	case models.KindInteractive:
		if raw.Interactive == nil {
			return msg, fmt.Errorf("interactive message without reply")
		}
		msg.Kind = models.KindInteractive
		switch {
		case raw.Interactive.ButtonReply != nil:
			msg.Body = raw.Interactive.ButtonReply.Title
			msg.MediaRef = raw.Interactive.ButtonReply.ID
		case raw.Interactive.ListReply != nil:
			msg.Body = raw.Interactive.ListReply.Title
			msg.MediaRef = raw.Interactive.ListReply.ID
		default:
			return msg, fmt.Errorf("interactive message of type %s without reply", raw.Interactive.Type)
		}

	default:
		return msg, fmt.Errorf("unknown message type %q", raw.Type)
	}

	return msg, nil
}

func (r RawMessage) mediaFor(kind string) *RawMedia {
	switch kind {
	case models.KindImage:
		return r.Image
	case models.KindVideo:
		return r.Video
	case models.KindDocument:
		return r.Document
	case models.KindAudio:
		return r.Audio
	}
	return nil
}

func parseTimestamp(ts string) time.Time {
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return time.Now().UTC()
}
