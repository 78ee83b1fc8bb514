package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-memory/internal/graphstore"
)

const defaultFactPrompt = `You extract durable personal facts from a conversation.
Record preferences, plans, relationships, personal details and anything the
user would expect to be remembered later. Ignore greetings and small talk.
Write each fact as a short standalone sentence in the language of the input.
Today's date is %s.

Respond only with JSON of the form {"facts": ["...", "..."]}. Return
{"facts": []} when nothing is worth remembering.`

const defaultRelationPrompt = `You extract entity relations from text for a knowledge graph.
Use the speaker's own name or "user" for first-person references. Keep entity
and relationship names short and lowercase.

Respond only with JSON of the form
{"relations": [{"source": "...", "relationship": "...", "destination": "..."}]}.`

const categoryPrompt = `You assign categories to a single memory about a user.
Pick one or more short lowercase categories such as personal, relationships,
preferences, health, travel, work, education, projects, technology, finance,
shopping, legal, entertainment, food, goals or organization. Invent a new
category only when none of these fit.

Respond only with JSON of the form {"categories": ["...", "..."]}.`

const imagePrompt = `Describe the image for a memory log in two or three
sentences. Mention people, objects, text and places that are visible. Do not
add anything else.`

func factPrompt(custom string, now time.Time) string {
	if custom != "" {
		return custom
	}
	return fmt.Sprintf(defaultFactPrompt, now.Format("2006-01-02"))
}

func relationPrompt(custom string) string {
	if custom != "" {
		return custom
	}
	return defaultRelationPrompt
}

// transcript renders messages as "role: content" lines.
func transcript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}
	return b.String()
}

// stripFence removes a surrounding markdown code fence, if any.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseFacts(raw string) ([]string, error) {
	var out struct {
		Facts []string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(stripFence(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse facts: %w", err)
	}
	facts := out.Facts[:0]
	for _, f := range out.Facts {
		if f = strings.TrimSpace(f); f != "" {
			facts = append(facts, f)
		}
	}
	return facts, nil
}

func parseRelations(raw string) ([]graphstore.Relation, error) {
	var out struct {
		Relations []graphstore.Relation `json:"relations"`
	}
	if err := json.Unmarshal([]byte(stripFence(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse relations: %w", err)
	}
	rels := out.Relations[:0]
	for _, r := range out.Relations {
		if r.Source != "" && r.Relationship != "" && r.Destination != "" {
			rels = append(rels, r)
		}
	}
	return rels, nil
}

// parseCategories returns trimmed, lowercased, de-duplicated categories.
func parseCategories(raw string) ([]string, error) {
	var out struct {
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal([]byte(stripFence(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	seen := map[string]bool{}
	cats := make([]string, 0, len(out.Categories))
	for _, c := range out.Categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cats = append(cats, c)
	}
	return cats, nil
}
