// Package content produces the marketing drafts sold as the metered action.
// Drafts are built from templates; one Generate call is one metered unit.
package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/meterly/backend/internal/domain/shared"
)

// Kind is the type of draft to produce
type Kind string

const (
	KindSocialPost  Kind = "social_post"
	KindBlogOutline Kind = "blog_outline"
	KindEmail       Kind = "email"
)

// Tone shapes the wording of a draft
type Tone string

const (
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
	TonePlayful      Tone = "playful"
)

// Request describes one draft
type Request struct {
	Kind         Kind
	Topic        string
	Tone         Tone
	BusinessName string
}

// Draft is a generated asset
type Draft struct {
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	GeneratedAt time.Time `json:"generated_at"`
}

var openers = map[Tone]string{
	ToneFriendly:     "Hey there!",
	ToneProfessional: "We are pleased to share an update.",
	TonePlayful:      "Guess what?",
}

// Generator builds drafts
type Generator struct {
	clock shared.Clock
}

// NewGenerator creates a generator. A nil clock uses the system clock.
func NewGenerator(clock shared.Clock) *Generator {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &Generator{clock: clock}
}

// Generate renders one draft. It fails only on unknown kinds or tones, or when
// ctx is already done.
func (g *Generator) Generate(ctx context.Context, req Request) (*Draft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	topic := strings.Join(strings.Fields(norm.NFC.String(req.Topic)), " ")
	if topic == "" {
		return nil, shared.ErrValidation.WithMessage("topic is required")
	}
	opener, ok := openers[req.Tone]
	if !ok {
		return nil, shared.ErrValidation.WithMessage("unknown tone " + string(req.Tone))
	}
	brand := req.BusinessName
	if brand == "" {
		brand = "our team"
	}
	// Caser is stateful and not safe for concurrent use
	title := cases.Title(language.English).String(topic)

	var body string
	switch req.Kind {
	case KindSocialPost:
		body = fmt.Sprintf("%s %s from %s is here. Tell us what you think! #%s",
			opener, title, brand, hashtag(topic))
	case KindBlogOutline:
		body = strings.Join([]string{
			"1. Why " + topic + " matters",
			"2. How " + brand + " approaches " + topic,
			"3. Three quick wins",
			"4. What to do next",
		}, "\n")
		title = "A Practical Guide to " + title
	case KindEmail:
		body = fmt.Sprintf("%s\n\nWe wanted to tell you about %s. At %s we have been working hard on it, and we think you will love the result.\n\nBest,\n%s",
			opener, topic, brand, brand)
		title = "News: " + title
	default:
		return nil, shared.ErrValidation.WithMessage("unknown kind " + string(req.Kind))
	}

	return &Draft{
		Kind:        req.Kind,
		Title:       title,
		Body:        body,
		GeneratedAt: g.clock(),
	}, nil
}

func hashtag(topic string) string {
	var b strings.Builder
	for _, w := range strings.Fields(topic) {
		b.WriteString(cases.Title(language.English).String(w))
	}
	return b.String()
}
