package support

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var seedYAML []byte

// Seed returns the built-in Reflect support catalog.
func Seed() Catalog {
	var c Catalog
	if err := yaml.Unmarshal(seedYAML, &c); err != nil {
		panic(fmt.Sprintf("support: embedded catalog is invalid: %v", err))
	}
	return c
}

// HelpMenu lists every category for the general help reply.
func HelpMenu(categories []Category) string {
	menu := "I'm here to help you with Reflect! I can assist with:\n\n"
	for _, c := range categories {
		menu += fmt.Sprintf("%s **%s** - %s\n", c.Icon, c.Name, c.Description)
	}
	return menu + "\nWhat would you like help with today? You can ask me specific questions or browse the topics above."
}

// ClarifyMenu asks the visitor to rephrase and offers the top-level categories.
func ClarifyMenu(categories []Category) string {
	menu := "I want to make sure I give you the most helpful answer. Could you help me understand what you're looking for?\n\n" +
		"Here are some ways I can help:\n\n"
	for _, c := range categories {
		menu += fmt.Sprintf("%s **%s** - %s\n", c.Icon, c.Name, c.Description)
	}
	return menu + "\nOr feel free to rephrase your question - I'm here to help!"
}

// Welcome is the greeting seeded into every new session.
const Welcome = `👋 Hi! I'm your Reflect support assistant. I can help you with:

• **Getting started** - Creating notes, basic features
• **Advanced features** - Backlinks, AI assistant, daily notes
• **Troubleshooting** - Sync issues, technical problems
• **Account & billing** - Plans, payments, settings

What can I help you with today?`

// WelcomeActions are the suggested actions attached to the greeting.
var WelcomeActions = []string{
	"How do I create my first note?",
	"Tell me about backlinks",
	"I'm having sync issues",
	"What are the pricing plans?",
}

// ClarifyActions accompany the clarifying menu.
var ClarifyActions = []string{
	"I need help getting started",
	"I have a technical problem",
	"I have a billing question",
	"Connect me with a human agent",
}

// DefaultReply is used when a topic search finds nothing and the visitor did not ask for help.
const DefaultReply = `I'd be happy to help you with Reflect! I didn't quite understand your question, but I can assist with:

• **Getting started** with Reflect
• **Using features** like backlinks and AI
• **Troubleshooting** technical issues
• **Account and billing** questions
• **Sync and backup** problems

Could you rephrase your question or let me know which topic you'd like help with?

For complex issues, I can also connect you with our human support team.`
