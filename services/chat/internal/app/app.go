package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"pocketchat/internal/util"
	"pocketchat/pkg/ai"
	"pocketchat/pkg/chatsync"
	"pocketchat/pkg/domain"
	"pocketchat/pkg/intent"
	"pocketchat/pkg/session"
	"pocketchat/pkg/storage"
)

// Reply texts shown to the user.
const (
	imageReplyFormat = "Here's the image I generated for: \"%s\""
	imageFailureText = "Sorry, I couldn't generate the image. The model might be loading or there's a quota limit. Please try again in a few moments."
	textFailureText  = "Sorry, I'm having trouble connecting to the AI service. Please try again."
	otherFailureText = "Sorry, I'm experiencing technical difficulties. Please try again."
)

const defaultGenerationTimeout = 30 * time.Second

// Outcome of a turn's generation step.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "generation_failed"
	OutcomeNoEngine = "not_configured"
)

// Transcript is the part of the sync engine the app drives.
type Transcript interface {
	LoadTranscript(ctx context.Context) []chatsync.Entry
	SendMessage(ctx context.Context, role domain.Role, text, imageRef string) (chatsync.Entry, error)
	Snapshot() []chatsync.Entry
}

// TurnObserver receives finished turns (metrics hook).
type TurnObserver interface {
	ObserveTurn(intent, outcome string, generation time.Duration)
}

// Config holds runtime dependencies for the core application.
type Config struct {
	Transcript Transcript
	Text       ai.TextGenerator
	// Images may be nil; image prompts then get the failure reply.
	Images            ai.ImageGenerator
	ImageRefs         storage.ImageRefs
	Sessions          session.Provider
	Exchanger         *session.Exchanger
	SystemPrompt      string
	GenerationTimeout time.Duration
	Location          *time.Location
	Observer          TurnObserver
}

// App orchestrates turns on top of the sync engine.
type App struct {
	transcript   Transcript
	text         ai.TextGenerator
	images       ai.ImageGenerator
	refs         storage.ImageRefs
	sessions     session.Provider
	exchanger    *session.Exchanger
	systemPrompt string
	genTimeout   time.Duration
	location     *time.Location
	observer     TurnObserver

	busy atomic.Bool
}

// Turn is the result of one prompt: the user entry and the assistant entry
// that follows it.
type Turn struct {
	User    chatsync.Entry
	Reply   chatsync.Entry
	Intent  intent.Kind
	Outcome string
}

// New validates cfg.
func New(cfg Config) (*App, error) {
	if cfg.Transcript == nil {
		return nil, errors.New("transcript required")
	}
	refs := cfg.ImageRefs
	if refs == nil {
		refs = storage.DataURIRefs{}
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.None{}
	}
	timeout := cfg.GenerationTimeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &App{
		transcript:   cfg.Transcript,
		text:         cfg.Text,
		images:       cfg.Images,
		refs:         refs,
		sessions:     sessions,
		exchanger:    cfg.Exchanger,
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		genTimeout:   timeout,
		location:     loc,
		observer:     cfg.Observer,
	}, nil
}

// Busy reports whether a turn is running.
func (a *App) Busy() bool {
	return a.busy.Load()
}

// RunTurn persists the prompt, generates a reply and persists the reply.
// Only ErrTurnInFlight and validation errors are returned; every other
// failure ends up as a reply entry or a pending entry.
func (a *App) RunTurn(ctx context.Context, prompt string) (Turn, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return Turn{}, ErrTurnInFlight
	}
	defer a.busy.Store(false)

	// A dropped client must not cut the turn in half.
	ctx = context.WithoutCancel(ctx)
	logger := util.LoggerFromContext(ctx)

	user, err := a.transcript.SendMessage(ctx, domain.RoleUser, prompt, "")
	if err != nil {
		return Turn{}, err
	}
	if user.Pending() {
		logger.Warn("user message unpersisted, generating reply anyway", "key", user.Key)
	}

	kind, phrase := intent.Classify(prompt)
	start := time.Now()
	var text, imageRef, outcome string
	switch kind {
	case intent.Image:
		text, imageRef, outcome = a.imageReply(ctx, logger, prompt, phrase)
	default:
		text, outcome = a.textReply(ctx, logger, prompt)
	}
	elapsed := time.Since(start)

	reply, err := a.transcript.SendMessage(ctx, domain.RoleAssistant, text, imageRef)
	if err != nil {
		// Only reachable if a generator returned blank text with no image.
		logger.Error("reply rejected, sending fallback text", "err", err)
		reply, _ = a.transcript.SendMessage(ctx, domain.RoleAssistant, otherFailureText, "")
		outcome = OutcomeFailed
	}
	if a.observer != nil {
		a.observer.ObserveTurn(string(kind), outcome, elapsed)
	}
	return Turn{User: user, Reply: reply, Intent: kind, Outcome: outcome}, nil
}

func (a *App) textReply(ctx context.Context, logger *slog.Logger, prompt string) (string, string) {
	if a.text == nil {
		return otherFailureText, OutcomeNoEngine
	}
	genCtx, cancel := context.WithTimeout(ctx, a.genTimeout)
	defer cancel()
	reply, err := a.text.GenerateText(genCtx, a.systemPrompt, prompt)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("blank completion")
	}
	if err != nil {
		logger.Error("text generation failed", "err", generationError(err))
		return textFailureText, OutcomeFailed
	}
	return reply, OutcomeOK
}

func (a *App) imageReply(ctx context.Context, logger *slog.Logger, prompt, phrase string) (string, string, string) {
	if a.images == nil {
		logger.Warn("image prompt but no image provider configured", "phrase", phrase)
		return imageFailureText, "", OutcomeNoEngine
	}
	genCtx, cancel := context.WithTimeout(ctx, a.genTimeout)
	defer cancel()
	img, err := a.images.GenerateImage(genCtx, prompt)
	if err != nil {
		logger.Error("image generation failed", "phrase", phrase, "err", generationError(err))
		return imageFailureText, "", OutcomeFailed
	}
	ref, err := a.refs.Publish(genCtx, a.ownerID(ctx), img.Data, img.MIMEType)
	if err != nil {
		logger.Error("publish generated image failed", "err", generationError(err))
		return imageFailureText, "", OutcomeFailed
	}
	return fmt.Sprintf(imageReplyFormat, prompt), ref, OutcomeOK
}

func (a *App) ownerID(ctx context.Context) string {
	if identity, ok, err := a.sessions.CurrentIdentity(ctx); err == nil && ok {
		return identity.OwnerID
	}
	return domain.LocalOwnerID
}

// generationError maps a provider failure onto the generation taxonomy.
func generationError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrGenerationTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrGeneration, err)
}

// Send runs the plain write path for one message.
func (a *App) Send(ctx context.Context, role domain.Role, text, imageRef string) (chatsync.View, error) {
	entry, err := a.transcript.SendMessage(context.WithoutCancel(ctx), role, text, imageRef)
	if err != nil {
		return chatsync.View{}, err
	}
	return a.present(ctx, []chatsync.Entry{entry})[0], nil
}

// Load runs the read path and returns display views.
func (a *App) Load(ctx context.Context) []chatsync.View {
	return a.present(ctx, a.transcript.LoadTranscript(ctx))
}

// Transcript returns the in-memory transcript without I/O to the stores.
func (a *App) Transcript(ctx context.Context) []chatsync.View {
	return a.present(ctx, a.transcript.Snapshot())
}

// Present maps entries for display.
func (a *App) Present(ctx context.Context, entries ...chatsync.Entry) []chatsync.View {
	return a.present(ctx, entries)
}

func (a *App) present(ctx context.Context, entries []chatsync.Entry) []chatsync.View {
	return chatsync.Present(ctx, entries, a.refs, a.location)
}

// Authenticated reports whether a session currently resolves.
func (a *App) Authenticated(ctx context.Context) bool {
	_, ok, err := a.sessions.CurrentIdentity(ctx)
	return err == nil && ok
}

// SignIn exchanges an identity-provider ID token for a store session.
func (a *App) SignIn(ctx context.Context, idToken string) (domain.Identity, error) {
	if a.exchanger == nil {
		return domain.Identity{}, ErrSignInDisabled
	}
	identity, err := a.exchanger.SignIn(ctx, idToken)
	if err != nil {
		return domain.Identity{}, err
	}
	util.LoggerFromContext(ctx).Info("signed in", "owner_id", identity.OwnerID)
	return identity, nil
}

// SignOut drops the session. Later operations use the local store.
func (a *App) SignOut() error {
	if a.exchanger == nil {
		return ErrSignInDisabled
	}
	a.exchanger.SignOut()
	return nil
}
