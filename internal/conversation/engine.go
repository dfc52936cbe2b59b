package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imovia/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	historyLimit     = 40
	responderTimeout = 30 * time.Second
)

// Sentinel errors mapped to invariant responses by the HTTP layer
var (
	ErrConversationClosed = errors.New("conversation is closed")
	ErrNotWaitingAgent    = errors.New("conversation is not in agent takeover")
)

// Store is the conversation persistence the engine drives
type Store interface {
	ByID(id uuid.UUID) (*models.Conversation, error)
	FindOrCreate(agentID uuid.UUID, customerAddress, customerName string) (*models.Conversation, error)
	AppendInbound(conversationID uuid.UUID, m *models.Message) (bool, error)
	AppendOutbound(conversationID uuid.UUID, m *models.Message) error
	History(conversationID uuid.UUID, limit int) ([]models.Message, error)
	TransitionStatus(id uuid.UUID, from []string, to string) (bool, error)
	Close(id uuid.UUID, notes string) (bool, error)
}

// AgentResolver maps an inbound destination number to the owning agent
type AgentResolver interface {
	AgentForDestination(toAddress string) (*models.User, error)
}

// Responder produces the assistant reply for a conversation history
type Responder interface {
	GenerateReply(ctx context.Context, history []models.ChatTurn) (string, error)
}

// Outbound delivers messages to the customer and returns the gateway id
type Outbound interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// Notifier pushes conversation events to connected portal clients
type Notifier interface {
	NotifyConversation(conversationID uuid.UUID, event string, payload interface{})
}

// Engine owns the conversation lifecycle: appending inbound messages,
// producing AI replies, and the takeover/close transitions. All status
// changes go through conditional updates in the store, so concurrent
// takeover and AI replies resolve without locks.
type Engine struct {
	store    Store
	agents   AgentResolver
	reply    Responder
	outbound Outbound
	notifier Notifier
	logger   zerolog.Logger
}

// NewEngine creates a conversation engine. notifier may be nil.
func NewEngine(store Store, agents AgentResolver, reply Responder, outbound Outbound, notifier Notifier, logger zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		agents:   agents,
		reply:    reply,
		outbound: outbound,
		notifier: notifier,
		logger:   logger,
	}
}

// SetNotifier attaches the portal event push. Call before serving traffic.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// HandleInbound processes one dequeued customer message: resolves the agent,
// appends the message exactly once, and replies through the AI responder
// unless a human has taken over. Safe to retry: the append is idempotent on
// the platform message id, so a retry after a responder or send failure picks
// up where it left off.
func (e *Engine) HandleInbound(ctx context.Context, key string, msg models.InboundMessage) error {
	agent, err := e.agents.AgentForDestination(msg.ToAddress)
	if err != nil {
		return fmt.Errorf("resolve agent for %s: %w", msg.ToAddress, err)
	}

	conv, err := e.store.FindOrCreate(agent.ID, msg.FromAddress, msg.SenderName)
	if err != nil {
		return fmt.Errorf("find or create conversation: %w", err)
	}

	inbound := &models.Message{
		Kind:       msg.Kind,
		Content:    msg.Body,
		MediaRef:   msg.MediaRef,
		ExternalID: msg.ExternalID,
		SenderName: msg.SenderName,
	}
	appended, err := e.store.AppendInbound(conv.ID, inbound)
	if err != nil {
		return fmt.Errorf("append inbound message: %w", err)
	}
	if appended {
		e.notify(conv.ID, "message", inbound)
	}

	if conv.Status == models.ConversationWaitingAgent {
		e.logger.Debug().
			Str("conversation_id", conv.ID.String()).
			Msg("conversation in takeover, skipping responder")
		return nil
	}
	if conv.Status == models.ConversationClosed {
		// FindOrCreate never returns closed rows; guard against drift
		return nil
	}

	history, err := e.store.History(conv.ID, historyLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	replyCtx, cancel := context.WithTimeout(ctx, responderTimeout)
	defer cancel()

	reply, err := e.reply.GenerateReply(replyCtx, toChatTurns(history))
	if err != nil {
		// The inbound message is already persisted; the retry skips the
		// duplicate append and reruns the responder
		return fmt.Errorf("generate reply: %w", err)
	}

	// Re-check right before sending: a takeover that landed while the
	// responder was running must win, and its reply must never reach the
	// customer.
	ok, err := e.store.TransitionStatus(conv.ID,
		[]string{models.ConversationActive, models.ConversationIdle},
		models.ConversationActive)
	if err != nil {
		return fmt.Errorf("confirm conversation status: %w", err)
	}
	if !ok {
		e.logger.Info().
			Str("conversation_id", conv.ID.String()).
			Msg("takeover landed during reply generation, suppressing assistant reply")
		return nil
	}

	deliveryID, err := e.outbound.SendText(ctx, msg.FromAddress, reply)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	outboundMsg := &models.Message{
		Role:       models.RoleAssistant,
		Kind:       models.KindText,
		Content:    reply,
		DeliveryID: deliveryID,
	}
	if err := e.store.AppendOutbound(conv.ID, outboundMsg); err != nil {
		// Delivered but not recorded; log rather than retry the whole job,
		// which would send the reply twice
		e.logger.Error().Err(err).
			Str("conversation_id", conv.ID.String()).
			Str("delivery_id", deliveryID).
			Msg("reply sent but not persisted")
		return nil
	}
	e.notify(conv.ID, "message", outboundMsg)

	return nil
}

// Takeover hands the conversation to a human: the AI responder stops replying
// until the conversation is closed. Idempotent when already in takeover.
func (e *Engine) Takeover(conversationID uuid.UUID) error {
	ok, err := e.store.TransitionStatus(conversationID,
		[]string{models.ConversationActive, models.ConversationIdle},
		models.ConversationWaitingAgent)
	if err != nil {
		return err
	}
	if ok {
		e.notify(conversationID, "takeover", nil)
		return nil
	}

	conv, err := e.store.ByID(conversationID)
	if err != nil {
		return err
	}
	switch conv.Status {
	case models.ConversationWaitingAgent:
		return nil
	case models.ConversationClosed:
		return ErrConversationClosed
	default:
		return fmt.Errorf("conversation in unexpected status %s", conv.Status)
	}
}

// SendAgentMessage delivers a human agent's message to the customer. Only
// valid while the conversation is in takeover.
func (e *Engine) SendAgentMessage(ctx context.Context, conversationID uuid.UUID, agentName, body string) (*models.Message, error) {
	conv, err := e.store.ByID(conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == models.ConversationClosed {
		return nil, ErrConversationClosed
	}
	if conv.Status != models.ConversationWaitingAgent {
		return nil, ErrNotWaitingAgent
	}

	deliveryID, err := e.outbound.SendText(ctx, conv.CustomerAddress, body)
	if err != nil {
		return nil, fmt.Errorf("send agent message: %w", err)
	}

	msg := &models.Message{
		Role:       models.RoleAgent,
		Kind:       models.KindText,
		Content:    body,
		SenderName: agentName,
		DeliveryID: deliveryID,
	}
	if err := e.store.AppendOutbound(conversationID, msg); err != nil {
		return nil, fmt.Errorf("persist agent message: %w", err)
	}
	e.notify(conversationID, "message", msg)

	return msg, nil
}

// Close terminates a conversation. Closing an already closed conversation is
// a no-op: close requests race with sweepers and other portal sessions, and
// the end state is the same either way.
func (e *Engine) Close(conversationID uuid.UUID, notes string) error {
	closed, err := e.store.Close(conversationID, notes)
	if err != nil {
		return err
	}
	if closed {
		e.notify(conversationID, "closed", nil)
	}
	return nil
}

func (e *Engine) notify(conversationID uuid.UUID, event string, payload interface{}) {
	if e.notifier != nil {
		e.notifier.NotifyConversation(conversationID, event, payload)
	}
}

// toChatTurns flattens persisted messages for the responder. Agent messages
// count as assistant turns so the model stays consistent with what the
// customer already read.
func toChatTurns(history []models.Message) []models.ChatTurn {
	turns := make([]models.ChatTurn, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role == models.RoleAgent {
			role = models.RoleAssistant
		}
		content := m.Content
		if content == "" && m.MediaRef != "" {
			content = fmt.Sprintf("[%s attachment]", m.Kind)
		}
		turns = append(turns, models.ChatTurn{Role: role, Content: content})
	}
	return turns
}
