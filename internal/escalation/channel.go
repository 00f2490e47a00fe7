package escalation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/client-linker/internal/model"
	"github.com/sells-group/client-linker/internal/resolver"
	"github.com/sells-group/client-linker/internal/store"
	"github.com/sells-group/client-linker/pkg/telegram"
)

const helpText = `I link meeting transcripts to clients. Reply directly to one of my notifications with a client name or email, or "manual" to handle it yourself.`

// Channel drives the conversational resolution flow over a Telegram chat.
// It implements resolver.Notifier for the outbound side and parses inbound
// replies on the webhook side.
type Channel struct {
	bot          telegram.Client
	chatID       int64
	store        store.Store
	resolver     *resolver.Resolver
	dashboardURL string
	previewChars int
	ownerDomain  string

	mu      sync.Mutex
	pending map[string]pendingLearn // transcript id → unconfirmed email offer
}

// pendingLearn is an email-learning offer awaiting the operator's
// confirm/skip reply.
type pendingLearn struct {
	clientID string
	email    string
}

// NewChannel wires the escalation side. Bind must be called with the
// orchestrator before any update is handled.
func NewChannel(bot telegram.Client, chatID int64, st store.Store, dashboardURL string, previewChars int, ownerDomain string) *Channel {
	return &Channel{
		bot:          bot,
		chatID:       chatID,
		store:        st,
		dashboardURL: dashboardURL,
		previewChars: previewChars,
		ownerDomain:  ownerDomain,
		pending:      make(map[string]pendingLearn),
	}
}

// Bind attaches the orchestrator. Split from construction because the
// orchestrator itself needs the channel as its notifier.
func (c *Channel) Bind(r *resolver.Resolver) { c.resolver = r }

// NotifyNeedsHuman sends the needs-human notification for a transcript.
func (c *Channel) NotifyNeedsHuman(ctx context.Context, t *model.Transcript, reason string) error {
	text := ComposeNotification(t, reason, c.dashboardURL, c.previewChars)
	if _, err := c.bot.SendMessage(ctx, c.chatID, text, telegram.WithDisablePreview()); err != nil {
		return eris.Wrap(err, "escalation: send notification")
	}
	return nil
}

// Renotify re-sends notifications for transcripts that have been waiting
// on a human longer than staleAfter.
func (c *Channel) Renotify(ctx context.Context, staleAfter time.Duration) error {
	stale, err := c.store.ListTranscripts(ctx, store.TranscriptFilter{
		Status:        model.LinkingStatusNeedsHuman,
		UpdatedBefore: time.Now().Add(-staleAfter),
	})
	if err != nil {
		return eris.Wrap(err, "escalation: list stale transcripts")
	}
	for i := range stale {
		if err := c.NotifyNeedsHuman(ctx, &stale[i], "still awaiting a reply"); err != nil {
			zap.L().Warn("escalation: renotify failed",
				zap.String("transcript_id", stale[i].ID),
				zap.Error(err),
			)
		}
	}
	if len(stale) > 0 {
		zap.L().Info("escalation: renotified stale transcripts", zap.Int("count", len(stale)))
	}
	return nil
}

// HandleUpdate processes one inbound webhook update. Only text messages
// that reply to a prior notification are acted on; everything else gets
// the generic help reply. Infrastructure errors never change the wording
// shown to the human beyond a generic apology.
func (c *Channel) HandleUpdate(ctx context.Context, upd telegram.Update) error {
	msg := upd.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	if msg.ReplyToMessage == nil {
		return c.send(ctx, msg.Chat.ID, helpText)
	}

	tid := ExtractTranscriptID(msg.ReplyToMessage.Text)
	if tid == "" {
		return c.send(ctx, msg.Chat.ID, helpText)
	}

	if offer, ok := c.takePending(tid); ok {
		return c.handleLearnReply(ctx, msg, tid, offer)
	}

	t, err := c.store.GetTranscript(ctx, tid)
	if eris.Is(err, store.ErrNotFound) {
		return c.send(ctx, msg.Chat.ID, fmt.Sprintf("I couldn't find transcript %s anymore. %s", tid, helpText))
	}
	if err != nil {
		zap.L().Error("escalation: load transcript", zap.String("transcript_id", tid), zap.Error(err))
		return c.send(ctx, msg.Chat.ID, "Sorry, I couldn't complete that. Please try again.")
	}
	if t.LinkingStatus.Linked() {
		return c.send(ctx, msg.Chat.ID,
			fmt.Sprintf("Transcript %s is already linked to client %s.", t.ID, t.ClientID))
	}

	// Candidate-free pre-pass: an explicit hold never touches the client
	// list.
	if v := resolver.ScoreReply(msg.Text, nil, c.resolver.Rules()); v.Kind == resolver.ReplyManual {
		return c.handleManual(ctx, msg, t)
	}

	clients, err := c.store.ListClientsByOwner(ctx, t.OwnerID)
	if err != nil {
		zap.L().Error("escalation: list clients", zap.String("owner_id", t.OwnerID), zap.Error(err))
		return c.send(ctx, msg.Chat.ID, "Sorry, I couldn't complete that. Please try again.")
	}

	verdict := resolver.ScoreReply(msg.Text, clients, c.resolver.Rules())
	switch verdict.Kind {
	case resolver.ReplyMatch:
		return c.handleMatch(ctx, msg, t, verdict)
	case resolver.ReplyAmbiguous:
		return c.handleAmbiguous(ctx, msg, verdict)
	default:
		return c.handleNoMatch(ctx, msg, t)
	}
}

func (c *Channel) handleManual(ctx context.Context, msg *telegram.Message, t *model.Transcript) error {
	if err := c.resolver.RecordManualHold(ctx, t); err != nil {
		zap.L().Error("escalation: record manual hold", zap.String("transcript_id", t.ID), zap.Error(err))
		return c.send(ctx, msg.Chat.ID, "Sorry, I couldn't complete that. Please try again.")
	}
	reply := fmt.Sprintf("Okay, transcript %s is held for manual handling.", t.ID)
	if c.dashboardURL != "" {
		reply += fmt.Sprintf("\nResolve: %s/transcripts/%s", strings.TrimRight(c.dashboardURL, "/"), t.ID)
	}
	return c.send(ctx, msg.Chat.ID, reply)
}

func (c *Channel) handleMatch(ctx context.Context, msg *telegram.Message, t *model.Transcript, v resolver.ReplyVerdict) error {
	out, err := c.resolver.CompleteLink(ctx, t, v.Client, v.Confidence, v.Reason)
	if err != nil {
		// The failure is already on the ledger; never claim success here.
		zap.L().Error("escalation: link failed",
			zap.String("transcript_id", t.ID),
			zap.String("client_id", v.Client.ID),
			zap.Error(err),
		)
		return c.send(ctx, msg.Chat.ID, "Sorry, I couldn't complete that. Please try again.")
	}
	if out.AlreadyLinked {
		return c.send(ctx, msg.Chat.ID,
			fmt.Sprintf("Transcript %s was already linked to client %s.", t.ID, out.ClientID))
	}

	if err := c.send(ctx, msg.Chat.ID,
		fmt.Sprintf("Linked transcript %s to %s (%s).", t.ID, v.Client.BusinessName, v.Reason)); err != nil {
		return err
	}
	return c.offerEmailLearn(ctx, msg.Chat.ID, t, v.Client)
}

func (c *Channel) handleAmbiguous(ctx context.Context, msg *telegram.Message, v resolver.ReplyVerdict) error {
	var b strings.Builder
	b.WriteString("I found multiple possible clients:\n")
	for _, cand := range v.Candidates {
		fmt.Fprintf(&b, "- %s", cand.BusinessName)
		if cand.BusinessEmail != "" {
			fmt.Fprintf(&b, " (%s)", cand.BusinessEmail)
		}
		b.WriteString("\n")
	}
	b.WriteString("Please re-reply with the exact email of the right one.")
	return c.send(ctx, msg.Chat.ID, b.String())
}

func (c *Channel) handleNoMatch(ctx context.Context, msg *telegram.Message, t *model.Transcript) error {
	if err := c.resolver.RecordUnrecognized(ctx, t, msg.Text); err != nil {
		zap.L().Error("escalation: record unrecognized reply", zap.String("transcript_id", t.ID), zap.Error(err))
	}
	return c.send(ctx, msg.Chat.ID, fmt.Sprintf(
		"I couldn't match %q to a client. Reply with a client name, an email, or \"manual\".", msg.Text))
}

// offerEmailLearn checks whether the linked transcript carries an external
// participant email the client doesn't know yet and, if so, asks the
// operator whether to save it. Never silent: learning requires an explicit
// yes.
func (c *Channel) offerEmailLearn(ctx context.Context, chatID int64, t *model.Transcript, client *model.Client) error {
	for _, email := range t.ExternalParticipants(c.ownerDomain) {
		if client.HasEmail(email) {
			continue
		}
		c.mu.Lock()
		c.pending[t.ID] = pendingLearn{clientID: client.ID, email: email}
		c.mu.Unlock()
		return c.send(ctx, chatID, fmt.Sprintf(
			"Save %s to %s so future transcripts link automatically? [transcript:%s]\nReply \"yes\" to save or \"skip\".",
			email, client.BusinessName, t.ID))
	}
	return nil
}

func (c *Channel) handleLearnReply(ctx context.Context, msg *telegram.Message, tid string, offer pendingLearn) error {
	switch strings.ToLower(strings.TrimSpace(msg.Text)) {
	case "yes", "y", "save", "add":
		if err := c.resolver.LearnEmail(ctx, offer.clientID, offer.email); err != nil {
			zap.L().Error("escalation: learn email",
				zap.String("client_id", offer.clientID),
				zap.Error(err),
			)
			return c.send(ctx, msg.Chat.ID, "Sorry, I couldn't complete that. Please try again.")
		}
		return c.send(ctx, msg.Chat.ID, fmt.Sprintf("Saved %s.", offer.email))
	case "skip", "no", "n":
		return c.send(ctx, msg.Chat.ID, "Okay, not saving it.")
	default:
		// Unclear answer: restore the offer and ask again.
		c.mu.Lock()
		c.pending[tid] = offer
		c.mu.Unlock()
		return c.send(ctx, msg.Chat.ID, fmt.Sprintf(
			"Save %s? Reply \"yes\" or \"skip\".", offer.email))
	}
}

func (c *Channel) takePending(tid string) (pendingLearn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	offer, ok := c.pending[tid]
	if ok {
		delete(c.pending, tid)
	}
	return offer, ok
}

func (c *Channel) send(ctx context.Context, chatID int64, text string) error {
	if _, err := c.bot.SendMessage(ctx, chatID, text, telegram.WithDisablePreview()); err != nil {
		return eris.Wrap(err, "escalation: send reply")
	}
	return nil
}
