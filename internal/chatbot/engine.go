package chatbot

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"themis/internal/observe"
)

const (
	EmptyInputReply = "Por favor, escribe algo para poder ayudarte."
	NoMatchReply    = "Lo siento, no entendí eso. ¿Puedes reformular tu pregunta?"

	DefaultThreshold     = 0.88
	DefaultKeywordWeight = 0.7
	DefaultTagWeight     = 0.3

	scoreEpsilon = 1e-9
)

// TieBreak decides between intents with the same top score.
type TieBreak int

const (
	// TieBreakListOrder keeps the first intent in built-ins-then-dynamic order.
	TieBreakListOrder TieBreak = iota
	// TieBreakPreferDynamic lets a store intent win a tie against a built-in.
	TieBreakPreferDynamic
)

// ParseTieBreak accepts "list-order" and "prefer-dynamic".
func ParseTieBreak(s string) (TieBreak, bool) {
	switch s {
	case "list-order", "":
		return TieBreakListOrder, true
	case "prefer-dynamic":
		return TieBreakPreferDynamic, true
	default:
		return TieBreakListOrder, false
	}
}

// IntentSource yields the current store intents. Implementations never fail:
// any problem is logged and reported as an empty list.
type IntentSource interface {
	DynamicIntents(ctx context.Context, token string) []Intent
}

// Notifier is told when a store intent answered a message. NotifyUsed must
// return immediately.
type Notifier interface {
	NotifyUsed(ctx context.Context, id int64)
}

type Option func(*Engine)

func WithThreshold(threshold float64) Option {
	return func(e *Engine) { e.threshold = threshold }
}

func WithWeights(keyword, tag float64) Option {
	return func(e *Engine) {
		e.keywordWeight = keyword
		e.tagWeight = tag
	}
}

func WithTieBreak(tb TieBreak) Option {
	return func(e *Engine) { e.tieBreak = tb }
}

// WithBuiltins replaces the embedded intents.
func WithBuiltins(intents []Intent) Option {
	return func(e *Engine) { e.builtins = intents }
}

// WithRand fixes the response picker, mostly for tests.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rnd = r }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine is safe for concurrent use; built-ins are never modified after New.
type Engine struct {
	source   IntentSource
	notifier Notifier
	builtins []Intent

	threshold     float64
	keywordWeight float64
	tagWeight     float64
	tieBreak      TieBreak

	rndMu sync.Mutex
	rnd   *rand.Rand

	metrics *observe.Metrics
	logger  *zap.Logger
}

// New builds an engine. source and notifier may be nil, in which case only
// built-ins are matched and nothing is reported.
func New(source IntentSource, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		source:        source,
		notifier:      notifier,
		threshold:     DefaultThreshold,
		keywordWeight: DefaultKeywordWeight,
		tagWeight:     DefaultTagWeight,
		tieBreak:      TieBreakListOrder,
	}
	for _, o := range opts {
		o(e)
	}
	if e.builtins == nil {
		e.builtins = Builtins()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Respond answers one user message. token is forwarded to the intent source
// as is and may be empty.
func (e *Engine) Respond(ctx context.Context, message, token string) MatchResult {
	start := time.Now()

	normalized := Normalize(message)
	if normalized == "" {
		e.metrics.RecordChat(ctx, observe.OutcomeEmpty, time.Since(start).Seconds())
		return MatchResult{Text: EmptyInputReply}
	}

	intents := make([]Intent, 0, len(e.builtins))
	intents = append(intents, e.builtins...)
	if e.source != nil {
		intents = append(intents, e.source.DynamicIntents(ctx, token)...)
	}

	winner, score, ok := e.bestMatch(newQuery(normalized), intents)
	if !ok {
		e.logger.Debug("no intent matched", zap.String("input", normalized))
		e.metrics.RecordChat(ctx, observe.OutcomeNoMatch, time.Since(start).Seconds())
		return MatchResult{Text: NoMatchReply}
	}

	outcome := observe.OutcomeStatic
	if id, dynamic := winner.Source.ID(); dynamic {
		outcome = observe.OutcomeDynamic
		if e.notifier != nil {
			e.notifier.NotifyUsed(ctx, id)
		}
	}
	e.logger.Debug("intent matched",
		zap.String("input", normalized),
		zap.String("tag", winner.Tag),
		zap.Stringer("source", winner.Source.Kind),
		zap.Float64("score", score),
	)
	e.metrics.RecordChat(ctx, outcome, time.Since(start).Seconds())

	result := MatchResult{Text: e.pickResponse(winner.Responses)}
	if winner.File != nil {
		file := *winner.File
		result.File = &file
	}
	return result
}

func (e *Engine) bestMatch(q query, intents []Intent) (Intent, float64, bool) {
	var (
		best      Intent
		bestScore float64
		found     bool
	)
	for _, intent := range intents {
		if !intent.Selectable() {
			continue
		}
		score := e.score(q, intent)
		if score <= 0 {
			continue
		}
		better := !found || score > bestScore+scoreEpsilon
		tie := found && !better && score >= bestScore-scoreEpsilon
		if !better && !(tie && e.preferOnTie(best, intent)) {
			continue
		}
		best, bestScore, found = intent, score, true
	}
	return best, bestScore, found
}

// score combines the keyword and tag fields. A field only counts once its
// similarity reaches the threshold, so an intent scores zero unless at least
// one field is a real match.
func (e *Engine) score(q query, intent Intent) float64 {
	keyword := 0.0
	for _, k := range intent.Keywords {
		if s := similarity(q, k); s > keyword {
			keyword = s
			if keyword == 1 {
				break
			}
		}
	}

	total := 0.0
	if keyword >= e.threshold {
		total += e.keywordWeight * keyword
	}
	if tag := similarity(q, Normalize(intent.Tag)); tag >= e.threshold {
		total += e.tagWeight * tag
	}
	return total
}

func (e *Engine) preferOnTie(current, challenger Intent) bool {
	if e.tieBreak != TieBreakPreferDynamic {
		return false
	}
	return current.Source.Kind == SourceStatic && challenger.Source.Kind == SourceDynamic
}

func (e *Engine) pickResponse(responses []string) string {
	if len(responses) == 1 {
		return responses[0]
	}
	if e.rnd == nil {
		return responses[rand.IntN(len(responses))]
	}
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return responses[e.rnd.IntN(len(responses))]
}
