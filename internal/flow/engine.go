// Package flow implements the intake dialogue: the transition function, the
// submission formatting and the event processing around them.
package flow

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/catalog"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// CompletedPolicy decides how a finished session answers input that is not a restart.
type CompletedPolicy string

const (
	// CompletedIgnore stays silent.
	CompletedIgnore CompletedPolicy = "ignore"
	// CompletedNotice replies once per message that the request was already sent.
	CompletedNotice CompletedPolicy = "notice"
)

// Result is the outcome of one transition.
type Result struct {
	Session models.Session
	Replies []string
	// Submit is true exactly when this transition completed the session.
	Submit bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCompletedPolicy sets the behavior for non-restart input after completion.
func WithCompletedPolicy(p CompletedPolicy) EngineOption {
	return func(e *Engine) {
		if p == CompletedNotice || p == CompletedIgnore {
			e.completed = p
		}
	}
}

// Engine is the pure dialogue transition function over a message catalog.
type Engine struct {
	messages  catalog.Lookuper
	completed CompletedPolicy
}

// NewEngine creates an Engine.
func NewEngine(messages catalog.Lookuper, opts ...EngineOption) *Engine {
	e := &Engine{messages: messages, completed: CompletedIgnore}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// freeTextStep describes a state that stores any non-empty text and advances.
type freeTextStep struct {
	field  models.FieldKey
	prompt string // re-asked on empty input
	next   models.StateType
	ask    string // prompt of the next state
}

var freeTextSteps = map[models.StateType]freeTextStep{
	models.StateDealershipName: {
		field: models.FieldName, prompt: catalog.KeyDealershipName,
		next: models.StateDealershipAddress, ask: catalog.KeyDealershipAddress,
	},
	models.StateDealershipAddress: {
		field: models.FieldAddress, prompt: catalog.KeyDealershipAddress,
		next: models.StateDealershipCooperation, ask: catalog.KeyDealershipCooperation,
	},
	models.StateCarNumber: {
		field: models.FieldCarNumber, prompt: catalog.KeyClientCarNumber,
		next: models.StateCity, ask: catalog.KeyClientCity,
	},
	models.StateCity: {
		field: models.FieldCity, prompt: catalog.KeyClientCity,
		next: models.StateMileage, ask: catalog.KeyClientMileage,
	},
	models.StateMileage: {
		field: models.FieldMileage, prompt: catalog.KeyClientMileage,
		next: models.StateIDDocument, ask: catalog.KeyClientID,
	},
}

// Transition computes the next session and the replies for one event.
// The input session is never modified.
func (e *Engine) Transition(s models.Session, evt models.InboundEvent) Result {
	next := s.Clone()
	var replies []string
	say := func(key string) {
		replies = append(replies, e.messages.Lookup(next.Language, key))
	}
	text := strings.TrimSpace(evt.Text)
	submit := false

	switch s.State {
	case models.StateInitial:
		if lang, ok := pickLanguage(text); ok {
			next.Language = lang
			next.State = models.StateCategorySelection
			say(catalog.KeySelectUserType)
		} else {
			next.State = models.StateLanguageSelection
			say(catalog.KeyChooseLanguage)
		}

	case models.StateLanguageSelection:
		if lang, ok := pickLanguage(text); ok {
			next.Language = lang
			next.State = models.StateCategorySelection
			say(catalog.KeySelectUserType)
		} else {
			say(catalog.KeyInvalidLanguage)
		}

	case models.StateCategorySelection:
		switch categoryChoices.match(text) {
		case choiceFirst:
			next.Category = models.CategoryDealership
			next.State = models.StateDealershipName
			say(catalog.KeyDealershipName)
		case choiceSecond:
			next.Category = models.CategoryClient
			next.State = models.StateCarNumber
			say(catalog.KeyClientCarNumber)
		default:
			say(catalog.KeyInvalidUserType)
		}

	case models.StateDealershipName, models.StateDealershipAddress,
		models.StateCarNumber, models.StateCity, models.StateMileage:
		step := freeTextSteps[s.State]
		if text == "" {
			say(step.prompt)
			break
		}
		next.Fields[step.field] = models.FieldValue{Text: text}
		next.State = step.next
		say(step.ask)

	case models.StateDealershipCooperation:
		var answer string
		switch cooperationChoices.match(text) {
		case choiceFirst:
			answer = models.AnswerYes
		case choiceSecond:
			answer = models.AnswerNo
		}
		if answer == "" {
			say(catalog.KeyInvalidCooperation)
			break
		}
		next.Fields[models.FieldCooperates] = models.FieldValue{Text: answer}
		next.State = models.StateIDDocument
		say(catalog.KeyDealershipID)

	case models.StateIDDocument:
		if evt.Attachment == nil {
			say(catalog.KeySendFile)
			break
		}
		a := *evt.Attachment
		next.Fields[models.FieldIDDocument] = models.FieldValue{Attachment: &a}
		next.State = models.StateTechPassport
		say(techPassportPrompt(next.Category))

	case models.StateTechPassport:
		if evt.Attachment == nil {
			say(catalog.KeySendFile)
			break
		}
		a := *evt.Attachment
		next.Fields[models.FieldTechPassport] = models.FieldValue{Attachment: &a}
		next.State = models.StateCompleted
		submit = true
		replies = append(replies,
			e.messages.Lookup(next.Language, catalog.KeyRequestComplete)+"\n\n"+
				e.messages.Lookup(next.Language, catalog.KeyNewRequest))

	case models.StateCompleted:
		if isRestart(text) {
			next.Fields = map[models.FieldKey]models.FieldValue{}
			next.Category = models.CategoryUnknown
			next.State = models.StateCategorySelection
			say(catalog.KeySelectUserType)
			break
		}
		if e.completed == CompletedNotice {
			say(catalog.KeyAlreadySubmitted)
		}

	default:
		slog.Warn("Engine.Transition: unknown state, restarting at category selection",
			"userID", s.UserID, "state", s.State)
		next.Fields = map[models.FieldKey]models.FieldValue{}
		next.Category = models.CategoryUnknown
		next.State = models.StateCategorySelection
		say(catalog.KeySelectUserType)
	}

	return Result{Session: next, Replies: replies, Submit: submit}
}

func pickLanguage(text string) (models.Language, bool) {
	switch languageChoices.match(text) {
	case choiceFirst:
		return models.LanguageRU, true
	case choiceSecond:
		return models.LanguageKZ, true
	default:
		return "", false
	}
}

func techPassportPrompt(c models.Category) string {
	if c == models.CategoryDealership {
		return catalog.KeyDealershipTechPassport
	}
	return catalog.KeyClientTechPassport
}
